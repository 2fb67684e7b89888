package rpc

import "encoding/json"

// JSON-RPC request/response types

type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// rpcContext wraps the slot context most account methods return alongside
// their value.
type rpcContext struct {
	Slot int64 `json:"slot"`
}

// getBalance response
type BalanceResult struct {
	Context rpcContext `json:"context"`
	Value   uint64     `json:"value"`
}

// getLatestBlockhash response
type BlockhashResult struct {
	Context rpcContext `json:"context"`
	Value   struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// getSignatureStatuses response; entries are null for unknown signatures.
type SignatureStatusesResult struct {
	Context rpcContext         `json:"context"`
	Value   []*SignatureStatus `json:"value"`
}

type SignatureStatus struct {
	Slot               int64       `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus *string     `json:"confirmationStatus"`
}

// Confirmed reports whether the status has reached at least the confirmed
// commitment level.
func (s *SignatureStatus) Confirmed() bool {
	if s == nil || s.ConfirmationStatus == nil {
		return false
	}
	return *s.ConfirmationStatus == "confirmed" || *s.ConfirmationStatus == "finalized"
}
