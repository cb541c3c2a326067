package state

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	dbt "drivelog/db/db"
	"drivelog/errs"
	"drivelog/mq/mq"
)

// ReceivePhoto takes the odometer or the receipt photo, by state.
func (m *Machine) ReceivePhoto(ctx context.Context, u User, ref string) (*Result, error) {
	return m.transition(ctx, u, "state.ReceivePhoto", func(s *step) (Payload, error) {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return nil, errs.UserInputf(s.op, "Отправьте фотографию")
		}
		switch p := s.cur.(type) {
		case WaitingOdometerPhoto:
			if _, err := s.openWorkDay(); err != nil {
				return nil, err
			}
			d := p.RefuelDraft
			d.OdometerPhotoRef = ref
			return WaitingOdometerReading{d}, nil
		case WaitingReceiptPhoto:
			if _, err := s.openWorkDay(); err != nil {
				return nil, err
			}
			d := p.RefuelDraft
			d.ReceiptPhotoRef = ref
			return WaitingFuelLiters{d}, nil
		}
		return nil, errs.Preconditionf(s.op, "Фото сейчас не ожидается")
	})
}

func (m *Machine) SubmitOdometer(ctx context.Context, u User, text string) (*Result, error) {
	return m.transition(ctx, u, "state.SubmitOdometer", func(s *step) (Payload, error) {
		p, ok := s.cur.(WaitingOdometerReading)
		if !ok {
			return nil, wrongState(s.op, s.cur)
		}
		v, err := ParsePositive(s.op, text)
		if err != nil {
			return nil, err
		}
		d := p.RefuelDraft
		d.OdometerReading = v
		return WaitingReceiptPhoto{d}, nil
	})
}

func (m *Machine) SubmitFuelLiters(ctx context.Context, u User, text string) (*Result, error) {
	return m.transition(ctx, u, "state.SubmitFuelLiters", func(s *step) (Payload, error) {
		p, ok := s.cur.(WaitingFuelLiters)
		if !ok {
			return nil, wrongState(s.op, s.cur)
		}
		v, err := ParsePositive(s.op, text)
		if err != nil {
			return nil, err
		}
		d := p.RefuelDraft
		d.Liters = v
		return WaitingFuelAmount{d}, nil
	})
}

// SubmitFuelAmount records the FuelPurchase and refills the tank.
func (m *Machine) SubmitFuelAmount(ctx context.Context, u User, text string) (*Result, error) {
	return m.transition(ctx, u, "state.SubmitFuelAmount", func(s *step) (Payload, error) {
		p, ok := s.cur.(WaitingFuelAmount)
		if !ok {
			return nil, wrongState(s.op, s.cur)
		}
		amount, err := ParsePositive(s.op, text)
		if err != nil {
			return nil, err
		}
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		fp := &dbt.FuelPurchase{
			ID:               uuid.New(),
			WorkDayID:        wd.ID,
			User:             u.ID,
			Vehicle:          wd.Vehicle,
			OdometerPhotoRef: p.OdometerPhotoRef,
			OdometerReading:  p.OdometerReading,
			ReceiptPhotoRef:  p.ReceiptPhotoRef,
			Liters:           p.Liters,
			Amount:           amount,
			CreatedAt:        s.now,
		}
		if err := s.tx.CreateFuelPurchase(s.ctx, fp); err != nil {
			return nil, fmt.Errorf("failed to create fuel purchase: %w", err)
		}
		s.res.WorkDay, s.res.FuelPurchase = wd, fp

		s.afterCommit(func(ctx context.Context) {
			r, err := m.fuel.ApplyRefuel(ctx, fp.Vehicle, fp.Liters, fp.Amount)
			if err != nil {
				log.Printf("warning: refuel of %s: %v", fp.Vehicle, err)
				s.res.FuelWarning = errs.Message(err)
			} else {
				s.res.Fuel = &r
			}
			msg := intervalMessage(mq.IntervalFuelPurchase, fp.ID, u.ID, dbt.Interval{WorkDayID: wd.ID, Start: fp.CreatedAt, End: fp.CreatedAt})
			msg.Location = dbt.LocationFuelStation
			m.publish(msg)
		})
		return Idle{}, nil
	})
}

// SubmitText routes free text to the operation the current state waits for.
func (m *Machine) SubmitText(ctx context.Context, u User, text string) (*Result, error) {
	cur, err := m.Current(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	switch cur.(type) {
	case WaitingDistance:
		return m.SubmitDistance(ctx, u, text)
	case WaitingOdometerReading:
		return m.SubmitOdometer(ctx, u, text)
	case WaitingFuelLiters:
		return m.SubmitFuelLiters(ctx, u, text)
	case WaitingFuelAmount:
		return m.SubmitFuelAmount(ctx, u, text)
	case WaitingManualDestination:
		return m.SubmitManualDestination(ctx, u, text)
	case WaitingOdometerPhoto, WaitingReceiptPhoto:
		return nil, errs.UserInputf("state.SubmitText", "Отправьте фотографию")
	}
	return nil, errs.Preconditionf("state.SubmitText", "Текст сейчас не ожидается. Используйте команды")
}
