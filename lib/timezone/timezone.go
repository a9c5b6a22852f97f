package timezone

import (
	"time"
	_ "time/tzdata"
)

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		panic(err)
	}
}

// force timezone to be in Sao Paulo since reports are read there
// regardless of where the machine clock is set
func Now() time.Time {
	return time.Now().In(Location)
}

// ReportDate formats t the way report headers print it, dd/mm/yyyy HH:MM.
func ReportDate(t time.Time) string {
	return t.In(Location).Format("02/01/2006 15:04")
}
