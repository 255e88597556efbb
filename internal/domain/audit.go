package domain

import "time"

// AuditStamp — явные аудит-поля, проставляемые на границе сервис→хранилище.
// Актор передаётся параметром, а не берётся из ambient-состояния.
type AuditStamp struct {
	Actor string
	At    time.Time
}

// NewStamp фиксирует актора и текущий момент UTC.
func NewStamp(actor string) AuditStamp {
	if actor == "" {
		actor = "system"
	}
	return AuditStamp{Actor: actor, At: time.Now().UTC()}
}
