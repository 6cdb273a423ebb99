package bridge

import (
	"fmt"
	"strconv"
	"time"
)

const terminatorCode = "ENTER"

// keyPress schedules one control activation at a fixed offset from the
// start of the sequence.
type keyPress struct {
	Code string
	At   time.Duration
}

// keyPlan builds the timed activation sequence for a channel number: digit i
// at i*digitInterval, then the terminator enterDelay after the last digit's
// slot. The offsets are absolute so a retried press never shifts the ones
// behind it.
func keyPlan(channel int, digitInterval, enterDelay time.Duration) ([]keyPress, error) {
	if channel <= 0 {
		return nil, fmt.Errorf("bridge: invalid channel %d", channel)
	}

	digits := strconv.Itoa(channel)
	plan := make([]keyPress, 0, len(digits)+1)
	for i, d := range digits {
		plan = append(plan, keyPress{
			Code: "NUMBER_" + string(d),
			At:   time.Duration(i) * digitInterval,
		})
	}
	plan = append(plan, keyPress{
		Code: terminatorCode,
		At:   time.Duration(len(digits))*digitInterval + enterDelay,
	})
	return plan, nil
}
