package sender

import (
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/computebudget"
)

var errNoFeePayer = errors.New("sender: transaction has no account keys to resolve a fee payer from")

// defaultComputeUnits is the per-send override default (spec.md §6:
// "computeUnits (override CU limit — default 200_000)").
const defaultComputeUnits = 200_000

// buildWorkingCopy implements spec.md §4.9's pre-loop step: for a legacy
// transaction with priority fees enabled, it prepends fresh
// compute-budget instructions and strips any compute-budget instructions
// already present in the original, never mutating the caller's tx. For a
// versioned transaction, the working copy is the original reference and
// the sender takes no compute-budget responsibility.
func buildWorkingCopy(tx *solana.Transaction, computeUnits uint32, microLamports uint64, injectComputeBudget bool) (*solana.Transaction, error) {
	if tx.Message.IsVersioned() || !injectComputeBudget {
		return tx, nil
	}

	instructions, err := decompileLegacyInstructions(tx)
	if err != nil {
		return nil, err
	}

	filtered := make([]solana.Instruction, 0, len(instructions))
	for _, ins := range instructions {
		if ins.ProgramID().Equals(computebudget.ProgramID) {
			continue
		}
		filtered = append(filtered, ins)
	}

	limitIx, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(computeUnits).
		ValidateAndBuild()
	if err != nil {
		return nil, err
	}
	priceIx, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(microLamports).
		ValidateAndBuild()
	if err != nil {
		return nil, err
	}

	newInstructions := make([]solana.Instruction, 0, len(filtered)+2)
	newInstructions = append(newInstructions, limitIx, priceIx)
	newInstructions = append(newInstructions, filtered...)

	payer, err := firstAccount(tx)
	if err != nil {
		return nil, err
	}

	working, err := solana.NewTransaction(newInstructions, tx.Message.RecentBlockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, err
	}
	return working, nil
}

// decompileLegacyInstructions reconstructs the original Instruction list
// from a compiled legacy Message.
func decompileLegacyInstructions(tx *solana.Transaction) ([]solana.Instruction, error) {
	msg := tx.Message
	out := make([]solana.Instruction, 0, len(msg.Instructions))
	for _, ci := range msg.Instructions {
		programID, err := msg.ResolveProgramIDIndex(ci.ProgramIDIndex)
		if err != nil {
			return nil, err
		}
		accounts, err := ci.ResolveInstructionAccounts(&msg)
		if err != nil {
			return nil, err
		}
		out = append(out, solana.NewInstruction(programID, accounts, ci.Data))
	}
	return out, nil
}

// firstAccount returns the transaction's fee payer, the first account in
// its static account-keys list.
func firstAccount(tx *solana.Transaction) (solana.PublicKey, error) {
	if len(tx.Message.AccountKeys) == 0 {
		return solana.PublicKey{}, errNoFeePayer
	}
	return tx.Message.AccountKeys[0], nil
}
