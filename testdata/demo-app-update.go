package main

import (
	"fmt"
	"os"
	"strings"
)

// Second build of demo-app: new functions are inserted ahead of divide so
// that it moves while its body stays the same.

//go:noinline
func add(a, b int) int {
	return a + b
}

//go:noinline
func multiply(a, b int) int {
	return a * b
}

//go:noinline
func power(a, n int) int {
	r := 1
	for i := 0; i < n; i++ {
		r *= a
	}
	return r
}

//go:noinline
func shout(s string) string {
	return strings.ToUpper(s) + "!"
}

//go:noinline
func subtract(a, b int) int {
	return a - b
}

//go:noinline
func divide(a, b int) int {
	if b == 0 {
		return 0
	}
	return a / b
}

//go:noinline
func greet(name string) {
	fmt.Printf("Hello, %s!\n", name)
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: demo-app <command>")
		fmt.Println("Commands: add, multiply, power, shout, greet")
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "add":
		result := add(10, 20)
		fmt.Printf("10 + 20 = %d\n", result)
	case "multiply":
		result := multiply(5, 6)
		fmt.Printf("5 * 6 = %d\n", result)
	case "power":
		fmt.Printf("2 ^ 10 = %d\n", power(2, 10))
	case "shout":
		fmt.Println(shout("xcover"))
	case "greet":
		greet("xcover")
	case "all":
		fmt.Println("Running all functions:")
		fmt.Printf("Add: %d\n", add(10, 20))
		fmt.Printf("Multiply: %d\n", multiply(5, 6))
		fmt.Printf("Power: %d\n", power(2, 10))
		fmt.Printf("Subtract: %d\n", subtract(30, 10))
		fmt.Printf("Divide: %d\n", divide(100, 5))
		fmt.Println(shout("xcover"))
		greet("xcover")
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
	}
}
