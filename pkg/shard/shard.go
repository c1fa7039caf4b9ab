// Package shard partitions a record set for parallel workers.
//
// Rule: contiguous blocks. Shard i of n holds rows [i*c, min((i+1)*c, len))
// with c = ceil(len/n). Records keep their original order inside each block,
// and concatenating shards 0..n-1 reproduces the input set exactly, with no
// record duplicated or dropped.
package shard

import (
	"fmt"

	"batchmint/pkg/models"
)

// Split partitions set into n order-preserving contiguous blocks. Trailing
// shards may be empty when n exceeds the record count.
func Split(set *models.RecordSet, n int) ([]*models.RecordSet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("shard count must be positive, got %d", n)
	}

	total := set.Len()
	block := (total + n - 1) / n

	shards := make([]*models.RecordSet, 0, n)
	for i := 0; i < n; i++ {
		start := i * block
		if start > total {
			start = total
		}
		end := start + block
		if end > total {
			end = total
		}
		shards = append(shards, &models.RecordSet{Records: set.Records[start:end]})
	}
	return shards, nil
}

// Concat reassembles shards in index order. Inverse of Split.
func Concat(shards []*models.RecordSet) (*models.RecordSet, error) {
	var records []*models.Record
	for _, s := range shards {
		records = append(records, s.Records...)
	}
	return models.NewRecordSet(records)
}
