package upload

import "github.com/abelbrown/lookalike/internal/intake"

// ChunkSize is the most files the ingestion endpoint accepts per request.
const ChunkSize = 50

// Chunk splits files into consecutive slices of at most size elements,
// preserving order. Concatenating the result yields files again.
// A non-positive size selects ChunkSize.
func Chunk(files []intake.CandidateFile, size int) [][]intake.CandidateFile {
	if size <= 0 {
		size = ChunkSize
	}
	if len(files) == 0 {
		return nil
	}
	out := make([][]intake.CandidateFile, 0, ChunkCount(len(files), size))
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		out = append(out, files[start:end:end])
	}
	return out
}

// ChunkCount returns ceil(n/size).
func ChunkCount(n, size int) int {
	if size <= 0 {
		size = ChunkSize
	}
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
