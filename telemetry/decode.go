package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"aura-monitor/common"
)

var (
	// ErrNoData ответ получен, но снимка в нём нет: пустой объект,
	// {"error": ...} или неразборчивый JSON
	ErrNoData = errors.New("no telemetry data")

	// ErrServer запрос не удалось выполнить
	ErrServer = errors.New("telemetry server error")
)

// DecodeSnapshot разбирает тело ответа GET /api/data.
// Отсутствующие latitude/longitude остаются nil, а не нулём.
func DecodeSnapshot(body []byte) (*common.Snapshot, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, ErrNoData
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}

	if len(fields) == 0 {
		return nil, ErrNoData
	}

	if raw, ok := fields["error"]; ok && truthy(raw) {
		var reason string
		if err := json.Unmarshal(raw, &reason); err != nil {
			reason = string(raw)
		}
		return nil, fmt.Errorf("%w: backend reported %q", ErrNoData, reason)
	}

	var snap common.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoData, err)
	}

	return &snap, nil
}

// truthy повторяет проверку json.error на клиенте: null, false, 0 и ""
// ошибкой не считаются
func truthy(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "null", "false", "0", `""`:
		return false
	}
	return true
}
