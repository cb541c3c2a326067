package state

import (
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/google/uuid"

	"drivelog/catalog"
	dbt "drivelog/db/db"
	"drivelog/errs"
	"drivelog/mq/mq"
)

// crmChoices is what shopping and idle time can be attributed to.
func crmChoices(objects []catalog.Object) []catalog.Object {
	out := make([]catalog.Object, 0, len(objects))
	for _, o := range objects {
		if !o.IsStatic() {
			out = append(out, o)
		}
	}
	return out
}

// toggle adds id to the selection or removes it when present.
func toggle(selected []string, id string) []string {
	if i := slices.Index(selected, id); i >= 0 {
		return slices.Delete(slices.Clone(selected), i, i+1)
	}
	return append(slices.Clone(selected), id)
}

func (m *Machine) toggleCRM(s *step, selected []string, objectID string) ([]string, error) {
	o, err := m.find(s, objectID)
	if err != nil {
		return nil, err
	}
	if o.IsStatic() {
		return nil, errs.UserInputf(s.op, "%s нельзя выбрать как объект", o.Name)
	}
	return toggle(selected, o.ID), nil
}

// selectionProjects turns the selected catalog ids into projects.
func (m *Machine) selectionProjects(s *step, selected []string) ([]uuid.UUID, error) {
	if len(selected) == 0 {
		return nil, errs.UserInputf(s.op, "Выберите хотя бы один объект")
	}
	ids := make([]uuid.UUID, 0, len(selected))
	for _, id := range selected {
		o, err := m.find(s, id)
		if err != nil {
			return nil, err
		}
		p, err := s.objectProject(o)
		if err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// ShopFor starts choosing the objects a shopping trip serves.
func (m *Machine) ShopFor(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.ShopFor", func(s *step) (Payload, error) {
		if err := free(s.op, s.cur); err != nil {
			return nil, err
		}
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		s.res.WorkDay = wd
		s.res.Objects = crmChoices(m.catalog.Combined(s.ctx, u.ID))
		return SelectingShopProjects{}, nil
	})
}

func (m *Machine) ToggleShopProject(ctx context.Context, u User, objectID string) (*Result, error) {
	return m.transition(ctx, u, "state.ToggleShopProject", func(s *step) (Payload, error) {
		p, ok := s.cur.(SelectingShopProjects)
		if !ok {
			return nil, wrongState(s.op, s.cur)
		}
		selected, err := m.toggleCRM(s, p.Selected, objectID)
		if err != nil {
			return nil, err
		}
		return SelectingShopProjects{Selected: selected}, nil
	})
}

// ShopDone starts the shopping activity on the selected objects.
func (m *Machine) ShopDone(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.ShopDone", func(s *step) (Payload, error) {
		p, ok := s.cur.(SelectingShopProjects)
		if !ok {
			return nil, wrongState(s.op, s.cur)
		}
		if _, err := s.openWorkDay(); err != nil {
			return nil, err
		}
		ids, err := m.selectionProjects(s, p.Selected)
		if err != nil {
			return nil, err
		}
		return Shopping{ProjectIDs: ids, Start: s.now}, nil
	})
}

// WorkOn starts work on the project the user last drove to. When that is
// not a project the choices are returned instead.
func (m *Machine) WorkOn(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.WorkOn", func(s *step) (Payload, error) {
		if err := free(s.op, s.cur); err != nil {
			return nil, err
		}
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		s.res.WorkDay = wd
		last, err := s.lastDestination(wd.ID)
		if err != nil {
			return nil, err
		}
		if last != "" && dbt.PlaceOf(last) != dbt.PlaceShop {
			p, err := s.projectByName(last)
			if err != nil {
				return nil, err
			}
			if p != nil {
				s.res.Project = p
				return workingOn(p.ID, s.now), nil
			}
		}
		s.res.Objects = placeChoices(m.catalog.Combined(s.ctx, u.ID), dbt.PlaceShop, dbt.PlaceFuelStation)
		return nil, nil
	})
}

func workingOn(project uuid.UUID, at time.Time) Working {
	return Working{ProjectID: &project, Start: &at}
}

// WorkOnObject starts work on a chosen object.
func (m *Machine) WorkOnObject(ctx context.Context, u User, objectID string) (*Result, error) {
	return m.transition(ctx, u, "state.WorkOnObject", func(s *step) (Payload, error) {
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
		if pl := o.Place(); pl == dbt.PlaceShop || pl == dbt.PlaceFuelStation {
			return nil, errs.UserInputf(s.op, "Работа в месте %q не учитывается", o.Name)
		}
		p, err := s.objectProject(o)
		if err != nil {
			return nil, err
		}
		s.res.WorkDay, s.res.Project = wd, p
		return workingOn(p.ID, s.now), nil
	})
}

// EndActivity closes the running shopping or work activity.
func (m *Machine) EndActivity(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.EndActivity", func(s *step) (Payload, error) {
		switch p := s.cur.(type) {
		case Shopping:
			return m.endShopping(s, p)
		case Working:
			if p.OnProject() {
				return m.endWork(s, p)
			}
		}
		return nil, errs.Preconditionf(s.op, "Нет активной работы или закупки")
	})
}

// endShopping writes the session and splits its minutes evenly over the
// projects; the remainder of the integer division is dropped.
func (m *Machine) endShopping(s *step, p Shopping) (Payload, error) {
	wd, err := s.openWorkDay()
	if err != nil {
		return nil, err
	}
	if len(p.ProjectIDs) == 0 {
		return nil, errs.Integrityf(s.op, "shopping without projects")
	}
	iv := dbt.Interval{WorkDayID: wd.ID, Start: p.Start, End: s.now}
	session := &dbt.ShoppingSession{ID: uuid.New(), Interval: iv, ProjectIDs: slices.Clone(p.ProjectIDs)}
	if err := s.tx.CreateShoppingSession(s.ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create shopping session: %w", err)
	}
	share := iv.DurationMinutes() / len(p.ProjectIDs)
	for _, id := range p.ProjectIDs {
		a := dbt.Activity{ID: uuid.New(), Interval: iv, Type: dbt.ActivityShopping, ProjectID: id, DurationMinutes: share}
		if err := s.tx.CreateActivity(s.ctx, &a); err != nil {
			return nil, fmt.Errorf("failed to create shopping activity: %w", err)
		}
		s.res.Activities = append(s.res.Activities, a)
	}
	s.res.WorkDay, s.res.ShoppingSession = wd, session

	s.afterCommit(func(ctx context.Context) {
		msg := intervalMessage(mq.IntervalShoppingSession, session.ID, s.user.ID, iv)
		msg.ProjectIDs = session.ProjectIDs
		m.publish(msg)
	})
	return Idle{}, nil
}

func (m *Machine) endWork(s *step, p Working) (Payload, error) {
	wd, err := s.openWorkDay()
	if err != nil {
		return nil, err
	}
	iv := dbt.Interval{WorkDayID: wd.ID, Start: *p.Start, End: s.now}
	a := dbt.Activity{ID: uuid.New(), Interval: iv, Type: dbt.ActivityWorking, ProjectID: *p.ProjectID, DurationMinutes: iv.DurationMinutes()}
	if err := s.tx.CreateActivity(s.ctx, &a); err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}
	project, err := s.tx.GetProject(s.ctx, a.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", a.ProjectID, err)
	}
	s.res.WorkDay, s.res.Project, s.res.Activities = wd, project, []dbt.Activity{a}

	s.afterCommit(func(ctx context.Context) {
		msg := intervalMessage(mq.IntervalActivity, a.ID, s.user.ID, iv)
		msg.ProjectIDs = []uuid.UUID{a.ProjectID}
		m.publish(msg)
		if ref := project.ExternalRef; ref != nil && ref.Source == catalog.SourceRemonline {
			if err := m.catalog.DepartureComment(ctx, ref.ID, s.user.DisplayName(), iv.End); err != nil {
				log.Printf("warning: departure comment on order %s: %v", ref.ID, err)
			}
		}
	})
	return Idle{}, nil
}

// IdleTime starts idle tracking on the project the user last drove to.
func (m *Machine) IdleTime(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.IdleTime", func(s *step) (Payload, error) {
		if err := free(s.op, s.cur); err != nil {
			return nil, err
		}
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		last, err := s.lastDestination(wd.ID)
		if err != nil {
			return nil, err
		}
		if pl := dbt.PlaceOf(last); last == "" || pl == dbt.PlaceShop || pl == dbt.PlaceFuelStation {
			return nil, errs.Preconditionf(s.op, "Простой учитывается только на объекте. Используйте выбор объектов")
		}
		p, err := s.projectByName(last)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, errs.Preconditionf(s.op, "Объект %q не найден среди проектов", last)
		}
		s.res.WorkDay, s.res.Project = wd, p
		return IdleTracking{ProjectIDs: []uuid.UUID{p.ID}, Start: s.now}, nil
	})
}

// IdleTimeFor starts choosing the objects an idle period is charged to.
func (m *Machine) IdleTimeFor(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.IdleTimeFor", func(s *step) (Payload, error) {
		if err := free(s.op, s.cur); err != nil {
			return nil, err
		}
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		s.res.WorkDay = wd
		s.res.Objects = crmChoices(m.catalog.Combined(s.ctx, u.ID))
		return SelectingIdleProjects{}, nil
	})
}

func (m *Machine) ToggleIdleProject(ctx context.Context, u User, objectID string) (*Result, error) {
	return m.transition(ctx, u, "state.ToggleIdleProject", func(s *step) (Payload, error) {
		p, ok := s.cur.(SelectingIdleProjects)
		if !ok {
			return nil, wrongState(s.op, s.cur)
		}
		selected, err := m.toggleCRM(s, p.Selected, objectID)
		if err != nil {
			return nil, err
		}
		return SelectingIdleProjects{Selected: selected}, nil
	})
}

func (m *Machine) IdleDone(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.IdleDone", func(s *step) (Payload, error) {
		p, ok := s.cur.(SelectingIdleProjects)
		if !ok {
			return nil, wrongState(s.op, s.cur)
		}
		if _, err := s.openWorkDay(); err != nil {
			return nil, err
		}
		ids, err := m.selectionProjects(s, p.Selected)
		if err != nil {
			return nil, err
		}
		return IdleTracking{ProjectIDs: ids, Start: s.now}, nil
	})
}

// EndIdleTime records the idle period.
func (m *Machine) EndIdleTime(ctx context.Context, u User) (*Result, error) {
	return m.transition(ctx, u, "state.EndIdleTime", func(s *step) (Payload, error) {
		p, ok := s.cur.(IdleTracking)
		if !ok {
			return nil, errs.Preconditionf(s.op, "Простой не отслеживается")
		}
		wd, err := s.openWorkDay()
		if err != nil {
			return nil, err
		}
		iv := dbt.Interval{WorkDayID: wd.ID, Start: p.Start, End: s.now}
		idle := &dbt.IdleTime{ID: uuid.New(), Interval: iv, ProjectIDs: slices.Clone(p.ProjectIDs)}
		if err := s.tx.CreateIdleTime(s.ctx, idle); err != nil {
			return nil, fmt.Errorf("failed to create idle time: %w", err)
		}
		s.res.WorkDay, s.res.IdleTime = wd, idle

		s.afterCommit(func(ctx context.Context) {
			msg := intervalMessage(mq.IntervalIdleTime, idle.ID, s.user.ID, iv)
			msg.ProjectIDs = idle.ProjectIDs
			m.publish(msg)
		})
		return Idle{}, nil
	})
}
