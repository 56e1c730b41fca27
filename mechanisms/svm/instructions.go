package svm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// ErrNoTransferInstruction is returned when a transaction carries no TransferChecked
var ErrNoTransferInstruction = errors.New("svm: no TransferChecked instruction")

// TransferChecked decoded from a transaction. Account fields are resolved
// against the transaction's account key list.
type TransferChecked struct {
	Source           solana.PublicKey
	Mint             solana.PublicKey
	Destination      solana.PublicKey
	Owner            solana.PublicKey
	DestinationIndex uint16
	Amount           uint64
	Decimals         uint8
}

// DecodeTransferCheckedData parses TransferChecked instruction data.
//
// Layout:
//
//	[0]      instruction tag  U8 (12)
//	[1..8]   amount           U64 LE
//	[9]      decimals         U8
func DecodeTransferCheckedData(data []byte) (amount uint64, decimals uint8, err error) {
	if len(data) != 10 {
		return 0, 0, fmt.Errorf("transfer checked data has %d bytes, want 10", len(data))
	}
	if data[0] != token.Instruction_TransferChecked {
		return 0, 0, fmt.Errorf("instruction tag %d is not TransferChecked", data[0])
	}
	return binary.LittleEndian.Uint64(data[1:9]), data[9], nil
}

// FindTransferChecked returns the first SPL Token TransferChecked instruction of tx.
//
// Accounts of a TransferChecked instruction:
//
//	[0] source  [1] mint  [2] destination  [3] owner
func FindTransferChecked(tx *solana.Transaction) (*TransferChecked, error) {
	keys := tx.Message.AccountKeys

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("program index %d out of range", inst.ProgramIDIndex)
		}
		progID := keys[inst.ProgramIDIndex]
		if !progID.Equals(solana.TokenProgramID) && !progID.Equals(solana.Token2022ProgramID) {
			continue
		}
		if len(inst.Data) == 0 || inst.Data[0] != token.Instruction_TransferChecked {
			continue
		}

		amount, decimals, err := DecodeTransferCheckedData(inst.Data)
		if err != nil {
			return nil, err
		}
		if len(inst.Accounts) < 4 {
			return nil, fmt.Errorf("transfer checked has %d accounts, want 4", len(inst.Accounts))
		}
		for _, idx := range inst.Accounts[:4] {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("account index %d out of range", idx)
			}
		}

		return &TransferChecked{
			Source:           keys[inst.Accounts[0]],
			Mint:             keys[inst.Accounts[1]],
			Destination:      keys[inst.Accounts[2]],
			Owner:            keys[inst.Accounts[3]],
			DestinationIndex: inst.Accounts[2],
			Amount:           amount,
			Decimals:         decimals,
		}, nil
	}

	return nil, ErrNoTransferInstruction
}

// FindMemo returns the data of the first memo program instruction of tx
func FindMemo(tx *solana.Transaction) (string, bool) {
	keys := tx.Message.AccountKeys

	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			continue
		}
		if !keys[inst.ProgramIDIndex].Equals(MemoProgramID) {
			continue
		}
		if !utf8.Valid(inst.Data) {
			continue
		}
		return string(inst.Data), true
	}

	return "", false
}

// NewMemoInstruction builds a memo instruction signed by signer
func NewMemoInstruction(memo string, signer solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)},
		[]byte(memo),
	)
}
