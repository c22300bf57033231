package domain

type CommissionType string

const (
	CommissionPercent CommissionType = "percent"
	CommissionFixed   CommissionType = "fixed"
)

func (t CommissionType) Valid() bool {
	return t == CommissionPercent || t == CommissionFixed
}

type ConversionStatus string

const (
	ConversionPending   ConversionStatus = "pending"
	ConversionConfirmed ConversionStatus = "confirmed"
	ConversionPaid      ConversionStatus = "paid"
	ConversionCancelled ConversionStatus = "cancelled"
)

func (s ConversionStatus) Valid() bool {
	switch s {
	case ConversionPending, ConversionConfirmed, ConversionPaid, ConversionCancelled:
		return true
	}
	return false
}

type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionApproved CommissionStatus = "approved"
	CommissionPaid     CommissionStatus = "paid"
	CommissionReversed CommissionStatus = "reversed"
)

func (s CommissionStatus) Valid() bool {
	switch s {
	case CommissionPending, CommissionApproved, CommissionPaid, CommissionReversed:
		return true
	}
	return false
}
