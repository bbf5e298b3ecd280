package cluster

import (
	"hash/fnv"
	"strconv"
	"strings"
)

const (
	numHashes    = 128
	numBands     = 32
	rowsPerBand  = numHashes / numBands
	shingleWords = 3
)

// shingles returns the overlapping word shingles of a normalization
// key. Keys shorter than the shingle size yield a single shingle of the
// whole key so short patterns still bucket.
func shingles(key string) []string {
	words := strings.Fields(key)
	if len(words) <= shingleWords {
		return []string{strings.Join(words, " ")}
	}
	out := make([]string, 0, len(words)-shingleWords+1)
	for i := 0; i+shingleWords <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+shingleWords], " "))
	}
	return out
}

// hashSeeds are deterministic odd multipliers derived from a splitmix64
// walk. Fixed seeds keep signatures stable across runs and processes.
var hashSeeds = func() [numHashes]uint64 {
	var seeds [numHashes]uint64
	state := uint64(0x9e3779b97f4a7c15)
	for i := range seeds {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		seeds[i] = (z ^ (z >> 31)) | 1
	}
	return seeds
}()

// signature computes the minhash signature of a normalization key.
func signature(key string) [numHashes]uint64 {
	var sig [numHashes]uint64
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for _, sh := range shingles(key) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(sh))
		base := h.Sum64()
		for i, seed := range hashSeeds {
			v := base * seed
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// bandKeys splits a signature into band bucket keys. Two keys sharing
// any band key become a candidate pair for similarity comparison.
func bandKeys(sig [numHashes]uint64) []string {
	keys := make([]string, numBands)
	for b := 0; b < numBands; b++ {
		var sb strings.Builder
		sb.WriteString(strconv.Itoa(b))
		for r := 0; r < rowsPerBand; r++ {
			sb.WriteByte(':')
			sb.WriteString(strconv.FormatUint(sig[b*rowsPerBand+r], 16))
		}
		keys[b] = sb.String()
	}
	return keys
}
