package domain

// Token is the balance/allowance snapshot of one token for the active
// account. All amounts are integer wei strings.
type Token struct {
	Symbol       string `json:"symbol"`
	Balance      string `json:"balance"`
	Allowance    string `json:"allowance"`
	NewAllowance string `json:"new_allowance"`
}

// AllowanceChanged reports whether a staged allowance differs from the
// on-chain one. NewAllowance defaults to Allowance.
func (t Token) AllowanceChanged() bool {
	return t.NewAllowance != t.Allowance
}
