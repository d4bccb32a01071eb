package md

import (
	"encoding/json"
	"os"
)

// LoadCache reads a previously saved price history. A missing file is the
// common first-run case and surfaces as the os.ErrNotExist it wraps.
func LoadCache(path string) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var prices []float64
	if err := json.Unmarshal(data, &prices); err != nil {
		return nil, err
	}
	return prices, nil
}

// SaveCache writes the price history so a restart can skip the initial
// historical fetch.
func SaveCache(path string, prices []float64) error {
	data, err := json.Marshal(prices)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
