package city

import "math"

// Health weights: traffic 40%, air quality 30%, response time 30%.
const (
	weightTraffic  = 0.4
	weightAQI      = 0.3
	weightResponse = 0.3

	aqiCeiling      = 200.0
	responseCeiling = 30.0
)

// DistrictHealth is 100 for an empty, clean, instantly served district and 0 when
// every normalized metric is saturated.
func DistrictHealth(r DistrictRecord) float64 {
	normTraffic := r.TrafficDensity / 100.0
	normAQI := math.Min(1, r.AirQualityIndex/aqiCeiling)
	normResponse := math.Min(1, r.EmergencyResponseMinutes/responseCeiling)
	penalty := weightTraffic*normTraffic + weightAQI*normAQI + weightResponse*normResponse
	return (1 - penalty) * 100
}

// CityHealth averages district health and rounds to one decimal.
func CityHealth(records []DistrictRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range records {
		total += DistrictHealth(r)
	}
	return math.Round(total/float64(len(records))*10) / 10
}
