package services

// Audit actions.
const (
	ActionRequestCreate  = "request.create"
	ActionDocumentUpload = "request.document"
	ActionRequestApprove = "request.approve"
	ActionRequestReject  = "request.reject"
	ActionLedgerSubmit   = "ledger.submit"
	ActionLedgerConfirm  = "ledger.confirm"
	ActionLedgerFail     = "ledger.fail"
	ActionLedgerResubmit = "ledger.resubmit"
	ActionCreditIssue    = "credit.issue"
	ActionCreditTransfer = "credit.transfer"
	ActionCreditRetire   = "credit.retire"
)

// Audit results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
