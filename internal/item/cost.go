package item

// Cost is the price of driving one connection.
type Cost struct {
	Length     float64 // metres
	Time       float64 // seconds
	StandStill float64 // seconds spent waiting at the crossing
}

// Add returns the sum of both costs.
func (c Cost) Add(o Cost) Cost {
	return Cost{
		Length:     c.Length + o.Length,
		Time:       c.Time + o.Time,
		StandStill: c.StandStill + o.StandStill,
	}
}

// Stand-still penalties in seconds.
const (
	standStillUTurnMajor      = 60
	standStillUTurnMinor      = 30
	standStillLeftTurnMajor   = 20
	standStillLeftTurnMinor   = 10
	standStillRightTurnMajor  = 15
	standStillRightTurnMinor  = 10
	standStillEnterRoundabout = 15
	standStillEnterFerry      = 25 * 60
	standStillExitFerry       = 3 * 60
	standStillChangeFerry     = 3 * 60
)

// StandStillTime returns the waiting time for a turn. majorRoad is the
// major-road flag of the node being entered.
func StandStillTime(turn TurnDirection, majorRoad bool) float64 {
	pick := func(major, minor float64) float64 {
		if majorRoad {
			return major
		}
		return minor
	}
	switch turn {
	case TurnUTurn:
		return pick(standStillUTurnMajor, standStillUTurnMinor)
	case TurnLeft, TurnKeepLeft, TurnOffRampLeft:
		return pick(standStillLeftTurnMajor, standStillLeftTurnMinor)
	case TurnRight, TurnKeepRight, TurnOffRampRight:
		return pick(standStillRightTurnMajor, standStillRightTurnMinor)
	case TurnEnterRoundabout:
		return standStillEnterRoundabout
	case TurnEnterFerry:
		return standStillEnterFerry
	case TurnExitFerry:
		return standStillExitFerry
	case TurnChangeFerry:
		return standStillChangeFerry
	}
	return 0
}

// TravelTime returns the seconds needed for length metres at speed km/h.
// A zero speed limit is treated as 50 km/h.
func TravelTime(length float64, speedKmh uint8) float64 {
	speed := float64(speedKmh)
	if speed == 0 {
		speed = 50
	}
	return length / (speed / 3.6)
}
