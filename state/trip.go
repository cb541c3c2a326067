package state

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"drivelog/catalog"
	dbt "drivelog/db/db"
	"drivelog/errs"
	"drivelog/mq/mq"
)

// StartDay opens the user's WorkingDay. Starting an already started day is a no-op.
func (m *Machine) StartDay(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.StartDay", func(s *step) (Payload, error) {
		day, err := s.tx.GetOpenWorkingDay(s.ctx, u.ID)
		if err == nil {
			s.res.WorkingDay, s.res.AlreadyOpen = day, true
			return nil, nil
		}
		if !errors.Is(err, dbt.ErrNotFound) {
			return nil, fmt.Errorf("failed to get open working day: %w", err)
		}
		day = &dbt.WorkingDay{ID: uuid.New(), User: u.ID, Start: s.now, Date: dbt.DateOf(s.now)}
		if err := s.tx.CreateWorkingDay(s.ctx, day); err != nil {
			return nil, fmt.Errorf("failed to create working day: %w", err)
		}
		s.res.WorkingDay = day
		return nil, nil
	})
}

// StartTrip returns the vehicle roster to choose from.
func (m *Machine) StartTrip(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.StartTrip", func(s *step) (Payload, error) {
		if err := free(s.op, s.cur); err != nil {
			return nil, err
		}
		if _, err := s.openWorkingDay(); err != nil {
			return nil, err
		}
		if wd, err := s.tx.GetOpenWorkDay(s.ctx, u.ID); err == nil {
			return nil, errs.Preconditionf(s.op, "Рейс на %s уже начат. Завершите его командой /end_trip", wd.Vehicle)
		} else if !errors.Is(err, dbt.ErrNotFound) {
			return nil, fmt.Errorf("failed to get open work day: %w", err)
		}
		vehicles := m.settings.Current().VehicleNames()
		if len(vehicles) == 0 {
			return nil, errs.Preconditionf(s.op, "Список автомобилей пуст. Обратитесь к администратору")
		}
		s.res.Vehicles = vehicles
		return nil, nil
	})
}

// ChooseVehicle opens a WorkDay on vehicle. An already open WorkDay is
// returned as is, so repeating the choice is harmless.
func (m *Machine) ChooseVehicle(ctx context.Context, u User, vehicle string) (*Result, error) {
	return m.transition(ctx, u, "state.ChooseVehicle", func(s *step) (Payload, error) {
		if _, ok := m.settings.Current().Vehicle(vehicle); !ok {
			return nil, errs.NotFoundf(s.op, "Автомобиль %q не найден", vehicle)
		}
		wd, err := s.tx.GetOpenWorkDay(s.ctx, u.ID)
		if err == nil {
			s.res.WorkDay, s.res.AlreadyOpen = wd, true
			return nil, nil
		}
		if !errors.Is(err, dbt.ErrNotFound) {
			return nil, fmt.Errorf("failed to get open work day: %w", err)
		}
		wd = &dbt.WorkDay{ID: uuid.New(), User: u.ID, Vehicle: vehicle, Start: s.now, Date: dbt.DateOf(s.now)}
		if err := s.tx.CreateWorkDay(s.ctx, wd); err != nil {
			return nil, fmt.Errorf("failed to create work day: %w", err)
		}
		log.Printf("user %d started work day %s on %s", u.ID, wd.ID, vehicle)
		s.res.WorkDay = wd
		return Working{}, nil
	})
}

// Destinations lists what the user can drive to, static places first.
func (m *Machine) Destinations(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.Destinations", func(s *step) (Payload, error) {
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		s.res.WorkDay = wd
		s.res.Objects = m.catalog.Combined(s.ctx, u.ID)
		return nil, nil
	})
}

// DriveTo starts a trip to a catalog object.
func (m *Machine) DriveTo(ctx context.Context, u User, objectID string) (*Result, error) {
	return m.transition(ctx, u, "state.DriveTo", func(s *step) (Payload, error) {
		if err := free(s.op, s.cur); err != nil {
			return nil, err
		}
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		o, err := m.find(s, objectID)
		if err != nil {
			return nil, err
		}
		draft := TripDraft{Destination: o.Name, Start: s.now}
		if !o.IsStatic() {
			p, err := s.objectProject(o)
			if err != nil {
				return nil, err
			}
			draft.ProjectID, draft.CRMID = &p.ID, o.ID
			s.res.Project = p
		}
		return s.startDriving(wd, draft)
	})
}

// startDriving fills in where the trip leaves from.
func (s *step) startDriving(wd *dbt.WorkDay, draft TripDraft) (Payload, error) {
	from, err := s.lastDestination(wd.ID)
	if err != nil {
		return nil, err
	}
	draft.StartLocation = from
	s.res.WorkDay = wd
	return Driving{TripDraft: draft}, nil
}

// Arrive ends the drive and asks for the distance.
func (m *Machine) Arrive(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.Arrive", func(s *step) (Payload, error) {
		d, ok := s.cur.(Driving)
		if !ok {
			return nil, errs.Preconditionf(s.op, "Нет активной поездки")
		}
		return WaitingDistance(d), nil
	})
}

// SubmitDistance records the trip. Arriving at the fuel station continues
// with the refuel dialog.
func (m *Machine) SubmitDistance(ctx context.Context, u User, text string) (*Result, error) {
	return m.transition(ctx, u, "state.SubmitDistance", func(s *step) (Payload, error) {
		w, ok := s.cur.(WaitingDistance)
		if !ok {
			return nil, wrongState(s.op, s.cur)
		}
		km, err := ParsePositive(s.op, text)
		if err != nil {
			return nil, err
		}
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		trip := &dbt.Trip{
			ID:            uuid.New(),
			Interval:      dbt.Interval{WorkDayID: wd.ID, Start: w.Start, End: s.now},
			StartLocation: w.StartLocation,
			EndLocation:   w.Destination,
			DistanceKm:    km,
			ProjectID:     w.ProjectID,
		}
		if err := s.tx.CreateTrip(s.ctx, trip); err != nil {
			return nil, fmt.Errorf("failed to create trip: %w", err)
		}
		s.res.WorkDay, s.res.Trip = wd, trip

		s.afterCommit(func(ctx context.Context) {
			m.applyTrip(ctx, s.res, wd.Vehicle, km)
			msg := intervalMessage(mq.IntervalTrip, trip.ID, u.ID, trip.Interval)
			msg.DistanceKm, msg.Location = km, trip.EndLocation
			if trip.ProjectID != nil {
				msg.ProjectIDs = []uuid.UUID{*trip.ProjectID}
			}
			m.publish(msg)
			if w.CRMID != "" {
				if err := m.catalog.ArrivalComment(ctx, w.CRMID, u.DisplayName(), trip.End); err != nil {
					log.Printf("warning: arrival comment on order %s: %v", w.CRMID, err)
				}
			}
		})

		if dbt.PlaceOf(w.Destination) == dbt.PlaceFuelStation {
			return WaitingOdometerPhoto{}, nil
		}
		return Idle{}, nil
	})
}

// applyTrip debits the tank. A fuel failure never fails the trip.
func (m *Machine) applyTrip(ctx context.Context, res *Result, vehicle string, km float64) {
	if vehicle == "" {
		return
	}
	r, err := m.fuel.ApplyTrip(ctx, vehicle, km)
	if err != nil {
		log.Printf("warning: fuel update for %s: %v", vehicle, err)
		res.FuelWarning = errs.Message(err)
		return
	}
	res.Fuel = &r
	if r.Status != nil && r.Status.ShouldWarn {
		res.FuelWarning = r.Status.Message
	}
}

// EndTrip closes the open WorkDay.
func (m *Machine) EndTrip(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.EndTrip", func(s *step) (Payload, error) {
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		if err := s.tx.CloseWorkDay(s.ctx, wd.ID, s.now); err != nil {
			return nil, fmt.Errorf("failed to close work day %s: %w", wd.ID, err)
		}
		end := s.now
		wd.End = &end
		s.res.WorkDay = wd
		log.Printf("user %d ended work day %s", u.ID, wd.ID)
		return Idle{}, nil
	})
}

// EndDay closes any open WorkDay and the WorkingDay, and returns the
// WorkDays of the day for the end of day report.
func (m *Machine) EndDay(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.EndDay", func(s *step) (Payload, error) {
		day, err := s.openWorkingDay()
		if err != nil {
			return nil, err
		}
		if wd, err := s.tx.GetOpenWorkDay(s.ctx, u.ID); err == nil {
			if err := s.tx.CloseWorkDay(s.ctx, wd.ID, s.now); err != nil {
				return nil, fmt.Errorf("failed to close work day %s: %w", wd.ID, err)
			}
		} else if !errors.Is(err, dbt.ErrNotFound) {
			return nil, fmt.Errorf("failed to get open work day: %w", err)
		}
		if err := s.tx.CloseWorkingDay(s.ctx, day.ID, s.now); err != nil {
			return nil, fmt.Errorf("failed to close working day %s: %w", day.ID, err)
		}
		end := s.now
		day.End = &end
		s.res.WorkingDay = day

		days, err := s.tx.ListWorkDays(s.ctx, u.ID, day.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to list work days: %w", err)
		}
		s.res.WorkDays = days
		return Idle{}, nil
	})
}

// placeChoices is the combined catalog without the given places.
func placeChoices(objects []catalog.Object, skip ...dbt.Place) []catalog.Object {
	out := make([]catalog.Object, 0, len(objects))
outer:
	for _, o := range objects {
		for _, p := range skip {
			if o.Place() == p {
				continue outer
			}
		}
		out = append(out, o)
	}
	return out
}
