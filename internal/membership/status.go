package membership

import "time"

// CalculateEstado derives the membership status implied by an expiration
// date: absent means pendiente, past means vencido, future means al_dia.
// A zero timestamp is treated as absent.
func CalculateEstado(fechaVencimiento *time.Time, now time.Time) EstadoMembresia {
	if fechaVencimiento == nil || fechaVencimiento.IsZero() {
		return EstadoPendiente
	}
	if fechaVencimiento.Before(now) {
		return EstadoVencido
	}
	return EstadoAlDia
}
