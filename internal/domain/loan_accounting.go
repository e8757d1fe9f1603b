package domain

// TransactionIDs lists the ids of all transactions, reversed ones included.
func (l *Loan) TransactionIDs() []int64 {
	ids := make([]int64, 0, len(l.s.Transactions))
	for _, tx := range l.s.Transactions {
		ids = append(ids, tx.ID)
	}
	return ids
}

// ReversedTransactionIDs lists the ids of reversed transactions.
func (l *Loan) ReversedTransactionIDs() []int64 {
	var ids []int64
	for _, tx := range l.s.Transactions {
		if tx.Reversed {
			ids = append(ids, tx.ID)
		}
	}
	return ids
}

// DeriveAccountingBridgeData collects what changed since the given snapshot of
// ids: transactions that did not exist yet, and existing ones that have been
// reversed since.
func (l *Loan) DeriveAccountingBridgeData(existing, existingReversed []int64, isAccountTransfer bool) AccountingBridgeData {
	known := toSet(existing)
	knownReversed := toSet(existingReversed)

	data := AccountingBridgeData{
		LoanID:            l.s.ID,
		ProductID:         l.s.Product.ProductID,
		OfficeID:          l.s.OfficeID,
		Currency:          l.s.Currency.Code,
		AccrualAccounting: l.s.Product.AccrualAccounting,
		IsAccountTransfer: isAccountTransfer,
	}
	for _, tx := range l.s.Transactions {
		isNew := !known[tx.ID]
		newlyReversed := known[tx.ID] && tx.Reversed && !knownReversed[tx.ID]
		if !isNew && !newlyReversed {
			continue
		}
		// created and reversed within one operation: nothing was ever posted
		if isNew && tx.Reversed {
			continue
		}
		jt := JournalTransaction{
			ID:                 tx.ID,
			Type:               tx.Type,
			Date:               tx.Date,
			Amount:             tx.Amount,
			Principal:          tx.Portions.Principal,
			Interest:           tx.Portions.Interest,
			Fee:                tx.Portions.Fee,
			Penalty:            tx.Portions.Penalty,
			Overpayment:        tx.OverpaymentPortion,
			UnrecognizedIncome: tx.UnrecognizedIncomePortion,
			Reversed:           tx.Reversed,
			AccountTransfer:    tx.AccountTransfer,
		}
		if tx.PaymentDetail != nil {
			jt.PaymentType = tx.PaymentDetail.PaymentType
		}
		data.Transactions = append(data.Transactions, jt)
	}
	return data
}

func toSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
