package safety

// Status дискретное состояние безопасности автомобиля
type Status string

const (
	NoData           Status = "NO DATA"
	ServerError      Status = "SERVER ERROR"
	NoGps            Status = "NO GPS"
	WaitingReference Status = "WAITING REFERENCE"
	GeofenceBreach   Status = "GEOFENCE BREACH"
	LowVoltage       Status = "LOW VOLTAGE"
	OverSpeed        Status = "OVER SPEED"
	IgnitionOff      Status = "IGNITION OFF"
	Safe             Status = "SAFE"
)

// Severity класс отображения статуса
type Severity string

const (
	SeveritySafe  Severity = "safe"
	SeverityWarn  Severity = "warn"
	SeverityAlert Severity = "alert"
)

var descriptions = map[Status]string{
	NoData:           "Waiting for vehicle data...",
	ServerError:      "Cannot reach the server.",
	NoGps:            "Vehicle has not reported a GPS position.",
	WaitingReference: "Waiting for operator location fix.",
	GeofenceBreach:   "Vehicle is outside the geofence.",
	LowVoltage:       "Battery voltage critically low.",
	OverSpeed:        "Vehicle exceeding speed limit.",
	IgnitionOff:      "Vehicle ignition is off.",
	Safe:             "All systems normal.",
}

// Severity возвращает класс отображения статуса.
// Предупреждением считается только IgnitionOff.
func (s Status) Severity() Severity {
	switch s {
	case Safe:
		return SeveritySafe
	case IgnitionOff:
		return SeverityWarn
	default:
		return SeverityAlert
	}
}

// Description возвращает пояснение для оператора
func (s Status) Description() string {
	return descriptions[s]
}

// Statuses возвращает все статусы в порядке приоритета
func Statuses() []Status {
	return []Status{NoData, ServerError, NoGps, WaitingReference, GeofenceBreach, LowVoltage, OverSpeed, IgnitionOff, Safe}
}
