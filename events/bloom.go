package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Bloom builds a bloom filter over the emitting addresses and topics of logs.
func Bloom(logs []types.Log) types.Bloom {
	var bloom types.Bloom
	for _, log := range logs {
		bloom.Add(log.Address.Bytes())
		for _, topic := range log.Topics {
			bloom.Add(topic.Bytes())
		}
	}
	return bloom
}

func InBloom(bloom types.Bloom, topic common.Hash) bool {
	return bloom.Test(topic.Bytes())
}
