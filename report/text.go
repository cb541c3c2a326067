package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"drivelog/alloc"
	dbt "drivelog/db/db"
)

const noVehicle = "Не указан"

func vehicleName(wd dbt.WorkDay) string {
	if wd.Vehicle == "" {
		return noVehicle
	}
	return wd.Vehicle
}

// WorkDayReport is the text summary of one WorkDay.
func (b *Builder) WorkDayReport(ctx context.Context, workDayID uuid.UUID) (string, error) {
	d, err := b.load(ctx, workDayID)
	if err != nil {
		return "", err
	}
	wd := d.records.WorkDay
	projects := b.projects(ctx, idsOf([]*workDayData{d}))

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Отчет за %s*\n", wd.Date.Format("02.01.2006"))
	fmt.Fprintf(&sb, "Автомобиль: %s\n", vehicleName(wd))
	fmt.Fprintf(&sb, "Начало: %s\n", clock(wd.Start))
	if wd.End != nil {
		fmt.Fprintf(&sb, "Окончание: %s\n\n", clock(*wd.End))
	} else {
		sb.WriteString("Окончание: в процессе\n\n")
	}

	buckets := d.alloc.Projects()
	if len(buckets) == 0 && len(d.alloc.Unallocated) == 0 {
		sb.WriteString("За день не было зарегистрировано активностей.\n")
		return sb.String(), nil
	}

	if len(buckets) > 0 {
		sb.WriteString("*Сводка по проектам:*\n\n")
	}
	for _, bk := range buckets {
		fmt.Fprintf(&sb, "*%s*\n", projectName(projects, bk.ProjectID))
		fmt.Fprintf(&sb, "  Время: %s\n", FormatMinutes(bk.TimeMinutes))
		fmt.Fprintf(&sb, "  Расстояние: %.1f км\n", bk.DistanceKm)
		if len(bk.Items) > 0 {
			sb.WriteString("  Детализация:\n")
			for _, line := range itemLines(bk.Items) {
				fmt.Fprintf(&sb, "    • %s\n", line)
			}
		}
		sb.WriteString("\n")
	}
	writeUnallocated(&sb, d.alloc.Unallocated)

	sb.WriteString("*Итого:*\n")
	fmt.Fprintf(&sb, "Общее время: %s\n", FormatMinutes(d.minutes()))
	fmt.Fprintf(&sb, "Общее расстояние: %.1f км\n", d.distanceKm())
	if liters := d.fuelLiters(); liters > 0 {
		fmt.Fprintf(&sb, "\n⛽ Расход топлива: %.2f л (%.2f %s)\n", liters, d.fuelCost(), b.settings.Current().WorkCost.Currency)
	}
	return sb.String(), nil
}

func writeUnallocated(sb *strings.Builder, items []alloc.Unallocated) {
	if len(items) == 0 {
		return
	}
	sb.WriteString("*Не распределено:*\n")
	for _, u := range items {
		fmt.Fprintf(sb, "  • Поездка до %s: %s, %.1f км\n", u.EndLocation, FormatMinutes(u.Minutes), u.DistanceKm)
	}
	sb.WriteString("\n")
}

// vehicleDay accumulates the closed WorkDays of one vehicle.
type vehicleDay struct {
	name       string
	trips      int
	minutes    float64
	distanceKm float64
	liters     float64
	parts      []alloc.Allocation
}

// dayData loads the closed WorkDays among workDays, in input order.
func (b *Builder) dayData(ctx context.Context, workDays []dbt.WorkDay) ([]*workDayData, error) {
	var out []*workDayData
	for _, wd := range workDays {
		if wd.IsOpen() {
			continue
		}
		d, err := b.load(ctx, wd.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func byVehicle(days []*workDayData) []*vehicleDay {
	var order []*vehicleDay
	index := make(map[string]*vehicleDay)
	for _, d := range days {
		name := vehicleName(d.records.WorkDay)
		v, ok := index[name]
		if !ok {
			v = &vehicleDay{name: name}
			index[name] = v
			order = append(order, v)
		}
		v.trips++
		v.minutes += d.minutes()
		v.distanceKm += d.distanceKm()
		v.liters += d.fuelLiters()
		v.parts = append(v.parts, d.alloc)
	}
	return order
}

// DayReport summarizes every closed WorkDay of a day.
func (b *Builder) DayReport(ctx context.Context, workDays []dbt.WorkDay) (string, error) {
	if len(workDays) == 0 {
		return "Нет рейсов за день.", nil
	}
	days, err := b.dayData(ctx, workDays)
	if err != nil {
		return "", err
	}
	projects := b.projects(ctx, idsOf(days))

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Отчет за день %s*\n\n", workDays[0].Date.Format("02.01.2006"))

	var totalMinutes, totalKm, idleMinutes float64
	parts := make([]alloc.Allocation, 0, len(days))
	for i, d := range days {
		wd := d.records.WorkDay
		fmt.Fprintf(&sb, "*Рейс %d:* %s\n", i+1, vehicleName(wd))
		fmt.Fprintf(&sb, "Время: %s - %s (%s)\n", clock(wd.Start), clock(d.end), FormatMinutes(d.minutes()))
		fmt.Fprintf(&sb, "Расстояние: %.1f км\n\n", d.distanceKm())
		totalMinutes += d.minutes()
		totalKm += d.distanceKm()
		for _, it := range d.records.IdleTimes {
			idleMinutes += float64(it.DurationMinutes())
		}
		parts = append(parts, d.alloc)
	}

	merged := alloc.Merge(parts...)
	if buckets := merged.Projects(); len(buckets) > 0 {
		sb.WriteString("*Сводка по объектам:*\n")
		for _, bk := range buckets {
			fmt.Fprintf(&sb, "%s: %s, %.1f км\n", projectName(projects, bk.ProjectID), FormatMinutes(bk.TimeMinutes), bk.DistanceKm)
		}
		sb.WriteString("\n")
	}
	writeUnallocated(&sb, merged.Unallocated)

	if idleMinutes > 0 {
		fmt.Fprintf(&sb, "*Общий простой:* %s\n\n", FormatMinutes(idleMinutes))
	}

	vehicles := byVehicle(days)
	if len(vehicles) > 0 {
		sb.WriteString("*Детальная сводка по машинам:*\n")
		for _, v := range vehicles {
			fmt.Fprintf(&sb, "*%s:* %d рейс(ов), %s, %.1f км\n", v.name, v.trips, FormatMinutes(v.minutes), v.distanceKm)
			if v.liters > 0 {
				fmt.Fprintf(&sb, "  Расход топлива: %.2f л\n", v.liters)
			}
			if served := alloc.Merge(v.parts...).Projects(); len(served) > 0 {
				sb.WriteString("  Объекты:\n")
				for _, bk := range served {
					fmt.Fprintf(&sb, "    • %s: %s, %.1f км\n", projectName(projects, bk.ProjectID), FormatMinutes(bk.TimeMinutes), bk.DistanceKm)
				}
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("*Итого за день:*\n")
	fmt.Fprintf(&sb, "Общее время: %s\n", FormatMinutes(totalMinutes))
	fmt.Fprintf(&sb, "Общее расстояние: %.1f км\n", totalKm)

	if warnings := b.fuel.Warnings(ctx, vehicleNames(workDays)); len(warnings) > 0 {
		sb.WriteString("\n*Предупреждения по топливу:*\n")
		for _, w := range warnings {
			sb.WriteString(w + "\n")
		}
	}
	return sb.String(), nil
}

func vehicleNames(workDays []dbt.WorkDay) []string {
	out := make([]string, 0, len(workDays))
	for _, wd := range workDays {
		out = append(out, wd.Vehicle)
	}
	return out
}
