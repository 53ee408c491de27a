package service

import (
	"context"

	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

// StatsService builds dashboard statistics over the tasks an actor can see.
type StatsService struct {
	tasks *TaskService
}

func NewStatsService(tasks *TaskService) *StatsService {
	return &StatsService{tasks: tasks}
}

// Dashboard returns statistics for the actor. Admins get team-wide numbers;
// employees get numbers over their own tasks with only themselves in the
// per-user breakdown.
func (s *StatsService) Dashboard(ctx context.Context, actor domain.Actor) (domain.Stats, error) {
	tasks, err := s.tasks.visible(ctx, actor, domain.TaskQuery{}.With(domain.FieldDeleted, false))
	if err != nil {
		return domain.Stats{}, err
	}
	var users []domain.User
	if actor.IsAdmin() {
		users, err = s.tasks.users.ListUsers(ctx)
		if err != nil {
			return domain.Stats{}, failure(s.tasks.log, "list users", log.Fields{"actor": actor.ID}, err)
		}
	} else {
		u, err := s.tasks.users.GetUser(ctx, actor.ID)
		if err != nil {
			return domain.Stats{}, failure(s.tasks.log, "load user", log.Fields{"user": actor.ID}, err)
		}
		users = []domain.User{u}
	}
	st := domain.ComputeStats(tasks, users, s.tasks.clock())
	s.tasks.log.WithFields(log.Fields{
		"actor": actor.ID,
		"tasks": st.Total,
		"users": len(st.PerUser),
	}).Debug("stats computed")
	return st, nil
}
