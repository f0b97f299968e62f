package txmanager

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// The history log records every mutation as explicit
// (fieldPath, old, new, note, timestamp) tuples with string-encoded values,
// so a serialized log replayed over the initial snapshot reproduces the
// final record on any platform.

const historyValueUnset = ""

// trackedFieldPaths lists the record fields covered by history diffing, in
// the order entries are emitted.
var trackedFieldPaths = []string{
	"status",
	"type",
	"hash",
	"error",
	"retries",
	"replacedBy",
	"replacedById",
	"baseFeePerGas",
	"txParams.to",
	"txParams.value",
	"txParams.nonce",
	"txParams.gas",
	"txParams.gasPrice",
	"txParams.maxFeePerGas",
	"txParams.maxPriorityFeePerGas",
}

// fieldValue encodes the current value of a tracked field as a string.
func fieldValue(m *TransactionMeta, path string) string {
	p := m.TxParams
	switch path {
	case "status":
		return string(m.Status)
	case "type":
		return string(m.Type)
	case "hash":
		if m.Hash == (common.Hash{}) {
			return historyValueUnset
		}
		return m.Hash.Hex()
	case "error":
		return m.Error
	case "retries":
		return strconv.Itoa(m.Retries)
	case "replacedBy":
		if m.ReplacedBy == (common.Hash{}) {
			return historyValueUnset
		}
		return m.ReplacedBy.Hex()
	case "replacedById":
		return m.ReplacedByID
	case "baseFeePerGas":
		return bigIntValue(m.BaseFeePerGas)
	case "txParams.to":
		if p == nil || p.To == nil {
			return historyValueUnset
		}
		return p.To.Hex()
	case "txParams.value":
		if p == nil {
			return historyValueUnset
		}
		return bigIntValue(p.Value)
	case "txParams.nonce":
		if p == nil || p.Nonce == nil {
			return historyValueUnset
		}
		return strconv.FormatUint(*p.Nonce, 10)
	case "txParams.gas":
		if p == nil {
			return historyValueUnset
		}
		return strconv.FormatUint(p.Gas, 10)
	case "txParams.gasPrice":
		if p == nil {
			return historyValueUnset
		}
		return bigIntValue(p.GasPrice)
	case "txParams.maxFeePerGas":
		if p == nil {
			return historyValueUnset
		}
		return bigIntValue(p.MaxFeePerGas)
	case "txParams.maxPriorityFeePerGas":
		if p == nil {
			return historyValueUnset
		}
		return bigIntValue(p.MaxPriorityFeePerGas)
	}
	return historyValueUnset
}

func bigIntValue(v *big.Int) string {
	if v == nil {
		return historyValueUnset
	}
	return v.String()
}

// diffHistory returns one entry per tracked field that changed between the
// two snapshots.
func diffHistory(oldTx, newTx *TransactionMeta, note string, at time.Time) []HistoryEntry {
	var entries []HistoryEntry
	for _, path := range trackedFieldPaths {
		oldVal := fieldValue(oldTx, path)
		newVal := fieldValue(newTx, path)
		if oldVal == newVal {
			continue
		}
		entries = append(entries, HistoryEntry{
			FieldPath: path,
			OldValue:  oldVal,
			NewValue:  newVal,
			Note:      note,
			Timestamp: at,
		})
	}
	return entries
}

// applyHistoryEntry sets a single tracked field from its string encoding.
func applyHistoryEntry(m *TransactionMeta, e HistoryEntry) error {
	if m.TxParams == nil {
		m.TxParams = &TxParams{}
	}
	p := m.TxParams
	switch e.FieldPath {
	case "status":
		m.Status = TransactionStatus(e.NewValue)
	case "type":
		m.Type = TransactionType(e.NewValue)
	case "hash":
		m.Hash = parseHash(e.NewValue)
	case "error":
		m.Error = e.NewValue
	case "retries":
		n, err := strconv.Atoi(e.NewValue)
		if err != nil {
			return fmt.Errorf("replaying %s: %w", e.FieldPath, err)
		}
		m.Retries = n
	case "replacedBy":
		m.ReplacedBy = parseHash(e.NewValue)
	case "replacedById":
		m.ReplacedByID = e.NewValue
	case "baseFeePerGas":
		m.BaseFeePerGas = parseBigInt(e.NewValue)
	case "txParams.to":
		if e.NewValue == historyValueUnset {
			p.To = nil
		} else {
			to := common.HexToAddress(e.NewValue)
			p.To = &to
		}
	case "txParams.value":
		p.Value = parseBigInt(e.NewValue)
	case "txParams.nonce":
		if e.NewValue == historyValueUnset {
			p.Nonce = nil
		} else {
			n, err := strconv.ParseUint(e.NewValue, 10, 64)
			if err != nil {
				return fmt.Errorf("replaying %s: %w", e.FieldPath, err)
			}
			p.Nonce = &n
		}
	case "txParams.gas":
		n, err := strconv.ParseUint(e.NewValue, 10, 64)
		if err != nil {
			return fmt.Errorf("replaying %s: %w", e.FieldPath, err)
		}
		p.Gas = n
	case "txParams.gasPrice":
		p.GasPrice = parseBigInt(e.NewValue)
	case "txParams.maxFeePerGas":
		p.MaxFeePerGas = parseBigInt(e.NewValue)
	case "txParams.maxPriorityFeePerGas":
		p.MaxPriorityFeePerGas = parseBigInt(e.NewValue)
	default:
		return fmt.Errorf("unknown history field path %q", e.FieldPath)
	}
	return nil
}

// ReplayHistory applies an ordered history log over an initial snapshot and
// returns the reconstructed record. The snapshot itself is not mutated.
func ReplayHistory(initial *TransactionMeta, entries []HistoryEntry) (*TransactionMeta, error) {
	result := initial.Clone()
	for _, e := range entries {
		if err := applyHistoryEntry(result, e); err != nil {
			return nil, err
		}
	}
	result.History = append([]HistoryEntry(nil), entries...)
	return result, nil
}

func parseHash(s string) common.Hash {
	if s == historyValueUnset {
		return common.Hash{}
	}
	return common.HexToHash(s)
}

func parseBigInt(s string) *big.Int {
	if s == historyValueUnset {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		// hex-encoded values from external tooling
		if h, err := hexutil.DecodeBig(s); err == nil {
			return h
		}
		return nil
	}
	return v
}
