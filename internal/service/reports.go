package service

import (
	"context"
	"fmt"
	"time"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/repository"
)

const day = 24 * time.Hour

// periodLength возвращает длину скользящего окна отчётного периода.
func periodLength(p model.Period) time.Duration {
	switch p {
	case model.PeriodWeekly:
		return 7 * day
	case model.PeriodMonthly:
		return 30 * day
	default:
		return day
	}
}

var reportPeriods = []model.Period{model.PeriodDaily, model.PeriodWeekly, model.PeriodMonthly}

// Stats возвращает сводку для администраторов с выручкой за сутки, неделю и месяц.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	st, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, p := range reportPeriods {
		rev, err := s.repo.Revenue(ctx, now.Add(-periodLength(p)), now)
		if err != nil {
			return nil, err
		}
		st.Periods = append(st.Periods, model.PeriodRevenue{Period: p, Revenue: *rev})
	}
	return st, nil
}

// Report строит финансовый отчёт за скользящее окно периода и сравнивает его
// с предыдущим окном той же длины.
func (s *Service) Report(ctx context.Context, period model.Period) (*model.Report, error) {
	p, ok := model.ParsePeriod(string(period))
	if !ok {
		return nil, fmt.Errorf("%w: unknown period %q", ErrInvalidInput, period)
	}

	to := s.now()
	from := to.Add(-periodLength(p))

	current, err := s.repo.Revenue(ctx, from, to)
	if err != nil {
		return nil, err
	}
	previous, err := s.repo.Revenue(ctx, from.Add(-periodLength(p)), from)
	if err != nil {
		return nil, err
	}
	top, err := s.repo.TopCustomers(ctx, from, to, repository.TopCustomersLimit)
	if err != nil {
		return nil, err
	}

	return &model.Report{
		Period:       p,
		Current:      *current,
		Previous:     *previous,
		TopCustomers: top,
	}, nil
}
