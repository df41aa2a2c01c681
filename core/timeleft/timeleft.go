// Package timeleft computes the countdown of a vault reservation and buckets
// it into urgency levels. Everything here is a pure function of its inputs.
package timeleft

import (
	"fmt"
	"time"
)

const (
	msPerSecond = 1000
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
)

// DefaultWindow is the reservation window used for the progress bar when the
// cart does not carry its own timeout.
const DefaultWindow = 48 * time.Hour

type Remaining struct {
	Days    int  `json:"days"`
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
	Expired bool `json:"expired"`
}

// Compute floors the distance between now and expiresAt into whole units.
// At or past expiresAt every unit is zero and Expired is set.
func Compute(expiresAt, now time.Time) Remaining {
	diff := expiresAt.Sub(now).Milliseconds()
	if diff <= 0 {
		return Remaining{Expired: true}
	}

	return Remaining{
		Days:    int(diff / msPerDay),
		Hours:   int(diff % msPerDay / msPerHour),
		Minutes: int(diff % msPerHour / msPerMinute),
		Seconds: int(diff % msPerMinute / msPerSecond),
	}
}

// Duration is the remaining time the units add up to.
func (r Remaining) Duration() time.Duration {
	if r.Expired {
		return 0
	}
	return time.Duration(r.Days)*24*time.Hour +
		time.Duration(r.Hours)*time.Hour +
		time.Duration(r.Minutes)*time.Minute +
		time.Duration(r.Seconds)*time.Second
}

// TotalHours counts whole hours left, days included.
func (r Remaining) TotalHours() int {
	return r.Days*24 + r.Hours
}

type Urgency string

const (
	Normal   Urgency = "normal"
	Warning  Urgency = "warning"
	Critical Urgency = "critical"
)

// Classify buckets the remaining time: up to 4h is critical, up to 24h a
// warning, anything longer normal.
func Classify(r Remaining) Urgency {
	d := r.Duration()
	switch {
	case d <= 4*time.Hour:
		return Critical
	case d <= 24*time.Hour:
		return Warning
	default:
		return Normal
	}
}

// Message is the headline shown next to the countdown.
func Message(r Remaining) string {
	if r.Expired {
		return "¡Tiempo Agotado!"
	}

	d := r.Duration()
	switch {
	case d <= time.Hour:
		return "¡Última hora!"
	case d <= 4*time.Hour:
		return "¡Menos de 4 horas restantes!"
	case d <= 24*time.Hour:
		return "Menos de 1 día restante"
	default:
		return "Tiempo suficiente"
	}
}

// Progress is the share of the reservation window still left, in [0, 100].
func Progress(r Remaining, window time.Duration) float64 {
	if window <= 0 {
		window = DefaultWindow
	}
	p := float64(r.Duration()) / float64(window) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Clock renders the countdown as "1d 02:03:04", omitting the day part when
// zero.
func (r Remaining) Clock() string {
	hms := fmt.Sprintf("%02d:%02d:%02d", r.Hours, r.Minutes, r.Seconds)
	if r.Days > 0 {
		return fmt.Sprintf("%dd %s", r.Days, hms)
	}
	return hms
}
