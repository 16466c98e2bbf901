// Package sigmigrate relocates known function offsets from an old build of a
// native library to a new build of the same library. Literal bytes around a
// function change between builds, so offsets are matched through signatures
// rather than by comparing raw bytes.
//
// # Signatures
//
// [BuildSignature] decodes a window of the old artifact at an offset and turns
// it into a [Signature]. Instructions that embed position dependent values
// (branches, page addresses, pair loads, stack relative stores) are replaced
// by wildcards, either completely or except for the opcode byte.
//
// # Scanning
//
// A [Scanner] finds every position where a signature matches a buffer. Three
// strategies are provided: [HorspoolScanner], [KMPScanner] and
// [AhoCorasickScanner]. [NewAhoCorasick] builds a single automaton over many
// signatures for batch runs.
//
// When no exact match exists, [FuzzyMatcher] ranks windows of the new artifact
// by a character-class aware [Distance] to the raw reference bytes.
//
// # Migration
//
// [Migrator] ties the pieces together. For each [OffsetRecord] it builds a
// signature, scans, falls back to fuzzy matching, optionally validates the
// candidate through a [MethodTypeResolver] and retries from past the rejected
// candidate. Attempts are bounded by [Config.MaxIterations]. [Migrator.Run]
// resolves records on a bounded worker pool and returns results in input
// order.
package sigmigrate
