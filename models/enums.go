package models

type OperationStatus string

const (
	OperationStatusActive    OperationStatus = "ACTIVE"
	OperationStatusCompleted OperationStatus = "COMPLETED"
	OperationStatusCancelled OperationStatus = "CANCELLED"
)

func (t OperationStatus) IsValid() bool {
	switch t {
	case OperationStatusActive, OperationStatusCompleted, OperationStatusCancelled:
		return true
	}
	return false
}

// incoterm on the supplier side of an operation
type PurchaseIncoterm string

const (
	PurchaseIncotermFOB PurchaseIncoterm = "FOB"
	PurchaseIncotermFCA PurchaseIncoterm = "FCA"
	PurchaseIncotermEXW PurchaseIncoterm = "EXW"
)

func (t PurchaseIncoterm) IsValid() bool {
	switch t {
	case PurchaseIncotermFOB, PurchaseIncotermFCA, PurchaseIncotermEXW:
		return true
	}
	return false
}

// incoterm on the customer side of an operation
type SaleIncoterm string

const (
	SaleIncotermDAP SaleIncoterm = "DAP"
	SaleIncotermCIF SaleIncoterm = "CIF"
	SaleIncotermFOB SaleIncoterm = "FOB"
)

func (t SaleIncoterm) IsValid() bool {
	switch t {
	case SaleIncotermDAP, SaleIncotermCIF, SaleIncotermFOB:
		return true
	}
	return false
}

type ScheduledPaymentStatus string

const (
	ScheduledPaymentStatusPending   ScheduledPaymentStatus = "PENDING"
	ScheduledPaymentStatusPaid      ScheduledPaymentStatus = "PAID"
	ScheduledPaymentStatusCancelled ScheduledPaymentStatus = "CANCELLED"
)

// PAYMENT installments go to the supplier and are measured against the cost basis,
// COLLECTION installments come from the customer and are measured against the sale value.
type ScheduledPaymentKind string

const (
	ScheduledPaymentKindPayment    ScheduledPaymentKind = "PAYMENT"
	ScheduledPaymentKindCollection ScheduledPaymentKind = "COLLECTION"
)

func (t ScheduledPaymentKind) IsValid() bool {
	return t == ScheduledPaymentKindPayment || t == ScheduledPaymentKindCollection
}

type MovementKind string

const (
	MovementKindInitialContribution MovementKind = "initial_contribution"
	MovementKindAdvance             MovementKind = "advance"
	MovementKindWithdrawal          MovementKind = "withdrawal"
	MovementKindOperationDeposit    MovementKind = "operation_deposit"
	MovementKindOperationCollection MovementKind = "operation_collection"
	MovementKindTaxPayment          MovementKind = "tax_payment"
)

func (t MovementKind) IsValid() bool {
	switch t {
	case MovementKindInitialContribution, MovementKindAdvance, MovementKindWithdrawal,
		MovementKindOperationDeposit, MovementKindOperationCollection, MovementKindTaxPayment:
		return true
	}
	return false
}

// deposits and collections drive installment status
func (t MovementKind) Reconciles() bool {
	return t == MovementKindOperationDeposit || t == MovementKindOperationCollection
}

type ContactKind string

const (
	ContactKindSupplier       ContactKind = "supplier"
	ContactKindCustomer       ContactKind = "customer"
	ContactKindLogisticsAgent ContactKind = "logistics_agent"
)

func (t ContactKind) IsValid() bool {
	switch t {
	case ContactKindSupplier, ContactKindCustomer, ContactKindLogisticsAgent:
		return true
	}
	return false
}

type LedgerEventAction string

const (
	LedgerEventActionCreate LedgerEventAction = "C"
	LedgerEventActionUpdate LedgerEventAction = "U"
	LedgerEventActionDelete LedgerEventAction = "D"
)

type LedgerEventReferenceType string

const (
	LedgerEventReferenceOperation        LedgerEventReferenceType = "operation"
	LedgerEventReferenceMovement         LedgerEventReferenceType = "movement"
	LedgerEventReferenceScheduledPayment LedgerEventReferenceType = "scheduled_payment"
	LedgerEventReferenceInvoice          LedgerEventReferenceType = "invoice"
)

func (t LedgerEventReferenceType) IsValid() bool {
	switch t {
	case LedgerEventReferenceOperation, LedgerEventReferenceMovement,
		LedgerEventReferenceScheduledPayment, LedgerEventReferenceInvoice:
		return true
	}
	return false
}
