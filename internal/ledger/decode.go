package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

func decodeErr(raw domain.RawLog, reason string, err error) *domain.DecodeError {
	var topic common.Hash
	if len(raw.Topics) > 0 {
		topic = raw.Topics[0]
	}
	return &domain.DecodeError{
		BlockNumber: raw.BlockNumber,
		LogIndex:    raw.LogIndex,
		Topic:       topic,
		Reason:      reason,
		Err:         err,
	}
}

// checkShape rejects removed logs and logs whose topic count does not match
// the event's indexed inputs.
func checkShape(ev abi.Event, raw domain.RawLog) error {
	if raw.Removed {
		return decodeErr(raw, ev.Name+": log removed by reorg", nil)
	}
	want := 1
	for _, in := range ev.Inputs {
		if in.Indexed {
			want++
		}
	}
	if len(raw.Topics) != want {
		return decodeErr(raw, fmt.Sprintf("%s: expected %d topics, got %d", ev.Name, want, len(raw.Topics)), nil)
	}
	return nil
}

func unpackData(ev abi.Event, raw domain.RawLog) ([]any, error) {
	vals, err := ev.Inputs.NonIndexed().Unpack(raw.Data)
	if err != nil {
		return nil, decodeErr(raw, ev.Name+": unpack data", err)
	}
	return vals, nil
}

func topicUint64(raw domain.RawLog, i int, name string) (uint64, error) {
	v := new(big.Int).SetBytes(raw.Topics[i].Bytes())
	if !v.IsUint64() {
		return 0, decodeErr(raw, name+" out of range", nil)
	}
	return v.Uint64(), nil
}

func topicAddress(raw domain.RawLog, i int, name string) (common.Address, error) {
	t := raw.Topics[i]
	for _, b := range t[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return common.Address{}, decodeErr(raw, name+" is not an address", nil)
		}
	}
	return common.BytesToAddress(t.Bytes()), nil
}

func argUint64(raw domain.RawLog, vals []any, i int, name string) (uint64, error) {
	if i >= len(vals) {
		return 0, decodeErr(raw, name+" missing", nil)
	}
	v, ok := vals[i].(*big.Int)
	if !ok || v == nil {
		return 0, decodeErr(raw, fmt.Sprintf("%s has type %T", name, vals[i]), nil)
	}
	if !v.IsUint64() {
		return 0, decodeErr(raw, name+" out of range", nil)
	}
	return v.Uint64(), nil
}

func argBig(raw domain.RawLog, vals []any, i int, name string) (*big.Int, error) {
	if i >= len(vals) {
		return nil, decodeErr(raw, name+" missing", nil)
	}
	v, ok := vals[i].(*big.Int)
	if !ok || v == nil {
		return nil, decodeErr(raw, fmt.Sprintf("%s has type %T", name, vals[i]), nil)
	}
	return v, nil
}

func argAddress(raw domain.RawLog, vals []any, i int, name string) (common.Address, error) {
	if i >= len(vals) {
		return common.Address{}, decodeErr(raw, name+" missing", nil)
	}
	v, ok := vals[i].(common.Address)
	if !ok {
		return common.Address{}, decodeErr(raw, fmt.Sprintf("%s has type %T", name, vals[i]), nil)
	}
	return v, nil
}

func argString(raw domain.RawLog, vals []any, i int, name string) (string, error) {
	if i >= len(vals) {
		return "", decodeErr(raw, name+" missing", nil)
	}
	v, ok := vals[i].(string)
	if !ok {
		return "", decodeErr(raw, fmt.Sprintf("%s has type %T", name, vals[i]), nil)
	}
	return v, nil
}
