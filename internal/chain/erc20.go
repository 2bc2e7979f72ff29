package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// 4-byte function selectors for the two ERC-20 calls this service makes.
var (
	transferSelector  = common.FromHex("0xa9059cbb") // transfer(address,uint256)
	balanceOfSelector = common.FromHex("0x70a08231") // balanceOf(address)
)

// Keccak topic of the ERC-20 Transfer(address,address,uint256) event, used by
// the reconciler to scan outbound transfers from the funding wallet.
var TransferEventTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

func pad32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// TransferCalldata packs transfer(to, amount).
func TransferCalldata(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, pad32(to.Bytes())...)
	amt := make([]byte, 32)
	amount.FillBytes(amt)
	return append(data, amt...)
}

// BalanceOfCalldata packs balanceOf(holder).
func BalanceOfCalldata(holder common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	return append(data, pad32(holder.Bytes())...)
}
