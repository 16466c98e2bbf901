package sigmigrate_test

import (
	"context"
	"fmt"

	"github.com/maxgio92/sigmigrate"
)

func ExampleBuildSignature() {
	// arm64: stp x29, x30, [sp, #-16]!; bl <callee>; ret
	code := []byte{
		0xfd, 0x7b, 0xbf, 0xa9,
		0x10, 0x00, 0x00, 0x94,
		0xc0, 0x03, 0x5f, 0xd6,
	}
	sig, err := sigmigrate.BuildSignature(code, 0, len(code), sigmigrate.ARM64Decoder{})
	if err != nil {
		panic(err)
	}
	fmt.Println(sig)
	// Output:
	// FD 7B BF A9 ?? ?? ?? ?? C0 03 5F D6
}

func ExampleScanner() {
	buf := []byte{0x00, 0xf5, 0x01, 0x02, 0xa9, 0xf5, 0xff, 0xfe, 0xa9}
	sig, _ := sigmigrate.ParseSignature("F5 ?? ?? A9")

	scanner, _ := sigmigrate.NewScanner(sigmigrate.ScannerHorspool)
	for _, pos := range scanner.Scan(buf, sig) {
		fmt.Println(sigmigrate.FormatOffset(pos))
	}
	// Output:
	// 0x1
	// 0x5
}

func ExampleMigrator_Run() {
	fn := []byte{
		0xfd, 0x7b, 0xbf, 0xa9, // stp x29, x30, [sp, #-16]!
		0xc0, 0x03, 0x5f, 0xd6, // ret
	}
	old := append(make([]byte, 0x10), fn...)
	new := append(make([]byte, 0x40), fn...)

	cfg := sigmigrate.DefaultConfig()
	cfg.WindowLength = len(fn)
	cfg.ReferenceHexLength = len(fn)

	m, err := sigmigrate.NewMigrator(old, new, cfg, sigmigrate.WithLogger(quiet))
	if err != nil {
		panic(err)
	}
	results := m.Run(context.Background(), []sigmigrate.OffsetRecord{
		{Offset: 0x10, Name: "Player.Update"},
	})
	for _, r := range results {
		fmt.Printf("%s: %s -> %s (%s)\n", r.Name, sigmigrate.FormatOffset(r.OldOffset), sigmigrate.FormatOffset(*r.NewOffset), r.Strategy)
	}
	// Output:
	// Player.Update: 0x10 -> 0x40 (exact)
}
