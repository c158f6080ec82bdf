package reconcile

import "sort"

// FindMissing returns the ids present in source but not in destination, ascending.
func FindMissing(sourceIDs []LegacyID, destinationIDs []LegacyID) []LegacyID {
	return difference(sourceIDs, destinationIDs)
}

// FindExtra returns the ids present in destination but not in source, ascending.
func FindExtra(destinationIDs []LegacyID, sourceIDs []LegacyID) []LegacyID {
	return difference(destinationIDs, sourceIDs)
}

func difference(left []LegacyID, right []LegacyID) []LegacyID {
	exclude := make(map[LegacyID]struct{}, len(right))
	for _, id := range right {
		exclude[id] = struct{}{}
	}
	kept := make([]LegacyID, 0, len(left))
	for _, id := range left {
		if _, found := exclude[id]; !found {
			kept = append(kept, id)
		}
	}
	return normalizeIDs(kept)
}

func union(left []LegacyID, right []LegacyID) []LegacyID {
	combined := make([]LegacyID, 0, len(left)+len(right))
	combined = append(combined, left...)
	combined = append(combined, right...)
	return normalizeIDs(combined)
}

// normalizeIDs sorts ascending and drops duplicates.
func normalizeIDs(ids []LegacyID) []LegacyID {
	sorted := make([]LegacyID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(left, right int) bool { return sorted[left] < sorted[right] })
	unique := make([]LegacyID, 0, len(sorted))
	for _, id := range sorted {
		if len(unique) > 0 && unique[len(unique)-1] == id {
			continue
		}
		unique = append(unique, id)
	}
	return unique
}

func chunkIDs(ids []LegacyID, size int) [][]LegacyID {
	chunks := make([][]LegacyID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
