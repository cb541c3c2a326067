package config

import (
	"fmt"
	"strings"
	"time"
)

const AppName = "drivelog"

// Duration wraps time.Duration so it reads and writes as "4h", "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

type Vehicle struct {
	Name                string  `toml:"name" json:"name"`
	ConsumptionPer100Km float64 `toml:"fuel_consumption" json:"fuel_consumption"`
	TankCapacity        float64 `toml:"tank_capacity" json:"tank_capacity"`
	CurrentFuel         float64 `toml:"current_fuel" json:"current_fuel"`
	FuelCostInTank      float64 `toml:"fuel_cost_in_tank" json:"fuel_cost_in_tank"`
	Mileage             float64 `toml:"mileage" json:"mileage"`
}

type FuelControl struct {
	LowThresholdPercent      float64 `toml:"low_fuel_threshold" json:"low_fuel_threshold"`
	CriticalThresholdPercent float64 `toml:"critical_fuel_threshold" json:"critical_fuel_threshold"`
	EnableTracking           bool    `toml:"enable_fuel_tracking" json:"enable_fuel_tracking"`
}

// CRMFilters decides which catalog orders count as active destinations.
type CRMFilters struct {
	EnableStatusIDFilter   bool     `toml:"enable_status_id_filter" json:"enable_status_id_filter"`
	TargetStatusID         int64    `toml:"target_status_id" json:"target_status_id"`
	EnableStatusNameFilter bool     `toml:"enable_status_name_filter" json:"enable_status_name_filter"`
	TargetStatusNames      []string `toml:"target_status_names" json:"target_status_names"`
}

type Catalog struct {
	BaseURL     string   `toml:"base_url" json:"base_url"`
	APIKeyEnv   string   `toml:"api_key_env" json:"api_key_env"`
	ActiveLimit int      `toml:"active_limit" json:"active_limit"`
	AllLimit    int      `toml:"all_limit" json:"all_limit"`
	Timeout     Duration `toml:"timeout" json:"timeout"`
	BoardURL    string   `toml:"board_url" json:"board_url"`
}

type Cache struct {
	DailyTTL           Duration `toml:"daily_ttl" json:"daily_ttl"`
	AllObjectsTTL      Duration `toml:"all_objects_ttl" json:"all_objects_ttl"`
	WarningAge         Duration `toml:"warning_age" json:"warning_age"`
	AutoRefreshOnStale bool     `toml:"auto_refresh_on_stale" json:"auto_refresh_on_stale"`
	MaxEntriesPerUser  int      `toml:"max_entries_per_user" json:"max_entries_per_user"`
}

type Webhook struct {
	DailyReportURL string   `toml:"daily_report_webhook_url" json:"daily_report_webhook_url"`
	Enabled        bool     `toml:"enable_webhook_sending" json:"enable_webhook_sending"`
	Timeout        Duration `toml:"webhook_timeout" json:"webhook_timeout"`
	RetryAttempts  int      `toml:"webhook_retry_attempts" json:"webhook_retry_attempts"`
}

type WorkCost struct {
	PricePerHour float64 `toml:"price_per_hour" json:"price_per_hour"`
	Currency     string  `toml:"currency" json:"currency"`
}

// Settings is the whole hot-reloadable configuration document.
type Settings struct {
	AdminUsers  []int64     `toml:"admin_users" json:"admin_users"`
	Vehicles    []Vehicle   `toml:"vehicles" json:"vehicles"`
	FuelControl FuelControl `toml:"fuel_control" json:"fuel_control"`
	CRMFilters  CRMFilters  `toml:"crm_filters" json:"crm_filters"`
	Catalog     Catalog     `toml:"catalog" json:"catalog"`
	Cache       Cache       `toml:"cache" json:"cache"`
	Webhook     Webhook     `toml:"webhook_settings" json:"webhook_settings"`
	WorkCost    WorkCost    `toml:"work_cost" json:"work_cost"`
}

const (
	DefaultConsumptionPer100Km = 8.0
	DefaultTankCapacity        = 60.0
)

func Default() Settings {
	return Settings{
		AdminUsers: []int64{},
		Vehicles: []Vehicle{
			{Name: "Машина А", ConsumptionPer100Km: 8.5, TankCapacity: 60, CurrentFuel: 45, FuelCostInTank: 2250, Mileage: 150000},
			{Name: "Машина Б", ConsumptionPer100Km: 9.2, TankCapacity: 55, CurrentFuel: 40, FuelCostInTank: 2000, Mileage: 89000},
			{Name: "Машина В", ConsumptionPer100Km: 7.8, TankCapacity: 65, CurrentFuel: 50, FuelCostInTank: 2500, Mileage: 200000},
		},
		FuelControl: FuelControl{
			LowThresholdPercent:      15,
			CriticalThresholdPercent: 5,
			EnableTracking:           true,
		},
		CRMFilters: CRMFilters{
			EnableStatusIDFilter:   true,
			TargetStatusID:         2974853,
			EnableStatusNameFilter: true,
			TargetStatusNames:      []string{"В роботі", "Срочный ремонт", "Реконструкция"},
		},
		Catalog: Catalog{
			BaseURL:     "https://api.remonline.app",
			APIKeyEnv:   "REMONLINE_API_KEY",
			ActiveLimit: 10,
			AllLimit:    100,
			Timeout:     Duration{30 * time.Second},
			BoardURL:    "https://web.remonline.app/orders/board",
		},
		Cache: Cache{
			DailyTTL:           Duration{4 * time.Hour},
			AllObjectsTTL:      Duration{2 * time.Hour},
			WarningAge:         Duration{2 * time.Hour},
			AutoRefreshOnStale: false,
			MaxEntriesPerUser:  10,
		},
		Webhook: Webhook{
			Enabled:       true,
			Timeout:       Duration{30 * time.Second},
			RetryAttempts: 3,
		},
		WorkCost: WorkCost{
			PricePerHour: 500,
			Currency:     "UAH",
		},
	}
}

// Vehicle looks a roster entry up by name.
func (s Settings) Vehicle(name string) (Vehicle, bool) {
	for _, v := range s.Vehicles {
		if v.Name == name {
			return v, true
		}
	}
	return Vehicle{}, false
}

func (s Settings) VehicleNames() []string {
	names := make([]string, 0, len(s.Vehicles))
	for _, v := range s.Vehicles {
		names = append(names, v.Name)
	}
	return names
}

func (s Settings) IsAdmin(user int64) bool {
	for _, id := range s.AdminUsers {
		if id == user {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with s.
func (s Settings) Clone() Settings {
	out := s
	out.AdminUsers = append([]int64(nil), s.AdminUsers...)
	out.Vehicles = append([]Vehicle(nil), s.Vehicles...)
	out.CRMFilters.TargetStatusNames = append([]string(nil), s.CRMFilters.TargetStatusNames...)
	return out
}

func (s Settings) Validate() error {
	seen := make(map[string]bool, len(s.Vehicles))
	for _, v := range s.Vehicles {
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("vehicle with empty name")
		}
		if seen[v.Name] {
			return fmt.Errorf("vehicle %s declared twice", v.Name)
		}
		seen[v.Name] = true
		if v.ConsumptionPer100Km <= 0 {
			return fmt.Errorf("vehicle %s: fuel_consumption must be positive", v.Name)
		}
		if v.TankCapacity <= 0 {
			return fmt.Errorf("vehicle %s: tank_capacity must be positive", v.Name)
		}
		if v.CurrentFuel < 0 || v.CurrentFuel > v.TankCapacity {
			return fmt.Errorf("vehicle %s: current_fuel %.1f outside [0, %.1f]", v.Name, v.CurrentFuel, v.TankCapacity)
		}
	}
	fc := s.FuelControl
	if fc.CriticalThresholdPercent < 0 || fc.LowThresholdPercent > 100 || fc.CriticalThresholdPercent > fc.LowThresholdPercent {
		return fmt.Errorf("fuel thresholds must satisfy 0 <= critical <= low <= 100")
	}
	if s.WorkCost.PricePerHour < 0 {
		return fmt.Errorf("price_per_hour must not be negative")
	}
	if s.Webhook.RetryAttempts < 0 {
		return fmt.Errorf("webhook_retry_attempts must not be negative")
	}
	return nil
}
