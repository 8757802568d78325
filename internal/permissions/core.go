package permissions

import "github.com/charlesng35/hycredit/internal/models"

// Capability identifiers.
const (
	RequestCreate   = "request.create"
	RequestView     = "request.view"
	RequestReview   = "request.review"
	CreditView      = "credit.view"
	CreditTransfer  = "credit.transfer"
	CreditRetire    = "credit.retire"
	AuditView       = "audit.view"
	LedgerConfirm   = "ledger.confirm"
	LedgerRemediate = "ledger.remediate"
)

// Operation names a core entry point guarded by exactly one capability.
type Operation string

const (
	OpCreateRequest  Operation = "create_request"
	OpUploadDocument Operation = "upload_document"
	OpViewRequest    Operation = "view_request"
	OpApproveRequest Operation = "approve_request"
	OpRejectRequest  Operation = "reject_request"
	OpConfirmLedger  Operation = "confirm_ledger"
	OpResubmitLedger Operation = "resubmit_ledger"
	OpViewCredit     Operation = "view_credit"
	OpTransferCredit Operation = "transfer_credit"
	OpRetireCredit   Operation = "retire_credit"
	OpViewAudit      Operation = "view_audit"
	OpViewStatistics Operation = "view_statistics"
)

var operations = map[Operation]string{
	OpCreateRequest:  RequestCreate,
	OpUploadDocument: RequestCreate,
	OpViewRequest:    RequestView,
	OpApproveRequest: RequestReview,
	OpRejectRequest:  RequestReview,
	OpConfirmLedger:  LedgerConfirm,
	OpResubmitLedger: LedgerRemediate,
	OpViewCredit:     CreditView,
	OpTransferCredit: CreditTransfer,
	OpRetireCredit:   CreditRetire,
	OpViewAudit:      AuditView,
	OpViewStatistics: RequestView,
}

var roleGrants = map[models.PartyRole][]string{
	models.RoleProducer:  {RequestCreate, RequestView, CreditView, CreditTransfer, CreditRetire, AuditView},
	models.RoleCertifier: {RequestView, RequestReview, CreditView, AuditView},
	models.RoleOperator:  {RequestView, CreditView, AuditView, LedgerConfirm, LedgerRemediate},
}

// RequiredCapability returns the capability an operation needs.
func RequiredCapability(op Operation) (string, bool) {
	capability, ok := operations[op]
	return capability, ok
}

// Grants returns the capabilities held by a role.
func Grants(role models.PartyRole) []string {
	return append([]string(nil), roleGrants[role]...)
}

func init() {
	perms := []*Permission{
		{ID: RequestView, Module: "requests", Description: "View credit requests visible to the party"},
		{ID: RequestCreate, Module: "requests", DependsOn: []string{RequestView}, Description: "Submit credit requests and upload proof documents"},
		{ID: RequestReview, Module: "requests", DependsOn: []string{RequestView}, Description: "Approve or reject assigned credit requests"},
		{ID: CreditView, Module: "credits", Description: "View issued credits and their history"},
		{ID: CreditTransfer, Module: "credits", DependsOn: []string{CreditView}, Description: "Transfer owned credit balance"},
		{ID: CreditRetire, Module: "credits", DependsOn: []string{CreditView}, Description: "Retire owned credit balance"},
		{ID: AuditView, Module: "audit", Description: "Read the audit trail"},
		{ID: LedgerConfirm, Module: "ledger", DependsOn: []string{RequestView}, Description: "Report ledger confirmations"},
		{ID: LedgerRemediate, Module: "ledger", DependsOn: []string{RequestView}, Description: "Resubmit failed ledger anchors"},
	}

	for _, perm := range perms {
		if err := Register(perm); err != nil {
			panic(err)
		}
	}
}
