package domain

import (
	"fmt"
	"time"
)

// Префиксы бизнес-идентификаторов: дата YYYYMMDD + литера вида + 8-значный
// номер последовательности, например 20250918P00000001.
const (
	IDPrefixOrder      = "O"
	IDPrefixPayment    = "P"
	IDPrefixLot        = "L"
	IDPrefixAllocation = "A"

	idSequencePadding = 8
	idDateLayout      = "20060102"
)

// BusinessID собирает бизнес-идентификатор фиксированного формата.
func BusinessID(prefix string, seq int64, at time.Time) string {
	return fmt.Sprintf("%s%s%0*d", at.UTC().Format(idDateLayout), prefix, idSequencePadding, seq)
}
