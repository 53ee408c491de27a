package domain

import (
	"math"
	"sort"
	"time"
)

// UserStats summarises the tasks assigned to one user.
type UserStats struct {
	UserID         string `json:"userId"`
	DisplayName    string `json:"displayName"`
	Total          int    `json:"total"`
	Completed      int    `json:"completed"`
	InProgress     int    `json:"inProgress"`
	Overdue        int    `json:"overdue"`
	CompletionRate int    `json:"completionRate"`
}

// Stats are aggregates derived from a task and user snapshot.
type Stats struct {
	Total           int              `json:"total"`
	Completed       int              `json:"completed"`
	Pending         int              `json:"pending"`
	Overdue         int              `json:"overdue"`
	CompletionRate  int              `json:"completionRate"`
	ByStatus        map[Status]int   `json:"byStatus"`
	ByPriority      map[Priority]int `json:"byPriority"`
	PerUser         []UserStats      `json:"perUser"`
	WorkloadBalance int              `json:"workloadBalance"`
	TeamEfficiency  int              `json:"teamEfficiency"`
}

// ComputeStats derives statistics from tasks and users as of now. Deleted
// tasks and inactive users are ignored.
func ComputeStats(tasks []Task, users []User, now time.Time) Stats {
	st := Stats{
		ByStatus:   make(map[Status]int, len(Statuses)),
		ByPriority: make(map[Priority]int, len(Priorities)),
		PerUser:    []UserStats{},
	}
	for _, s := range Statuses {
		st.ByStatus[s] = 0
	}
	for _, p := range Priorities {
		st.ByPriority[p] = 0
	}

	perUser := make(map[string]*UserStats)
	active := make([]string, 0, len(users))
	for _, u := range users {
		if !u.Active {
			continue
		}
		if _, dup := perUser[u.ID]; dup {
			continue
		}
		perUser[u.ID] = &UserStats{UserID: u.ID, DisplayName: u.DisplayName}
		active = append(active, u.ID)
	}

	for _, t := range tasks {
		if t.Deleted {
			continue
		}
		st.Total++
		st.ByStatus[t.Status]++
		if t.Priority != "" {
			st.ByPriority[t.Priority]++
		}
		done := t.Status == StatusCompleted
		late := IsOverdue(t, now)
		if done {
			st.Completed++
		}
		if late {
			st.Overdue++
		}
		if us, ok := perUser[t.AssigneeID]; ok {
			us.Total++
			if done {
				us.Completed++
			}
			if t.Status == StatusInProgress {
				us.InProgress++
			}
			if late {
				us.Overdue++
			}
		}
	}
	st.Pending = st.Total - st.Completed
	st.CompletionRate = Percent(st.Completed, st.Total)

	minLoad, maxLoad := -1, 0
	for _, id := range active {
		us := perUser[id]
		us.CompletionRate = Percent(us.Completed, us.Total)
		st.PerUser = append(st.PerUser, *us)
		if minLoad < 0 || us.Total < minLoad {
			minLoad = us.Total
		}
		if us.Total > maxLoad {
			maxLoad = us.Total
		}
	}
	sort.SliceStable(st.PerUser, func(i, j int) bool {
		if st.PerUser[i].Total != st.PerUser[j].Total {
			return st.PerUser[i].Total > st.PerUser[j].Total
		}
		return st.PerUser[i].UserID < st.PerUser[j].UserID
	})

	if maxLoad == 0 {
		st.WorkloadBalance = 100
	} else {
		st.WorkloadBalance = Percent(minLoad, maxLoad)
	}
	if len(active) > 0 {
		st.TeamEfficiency = roundHalfUp(float64(st.Completed) / float64(len(active)))
	}
	return st
}

// IsOverdue reports whether t is due strictly before today and not completed.
func IsOverdue(t Task, now time.Time) bool {
	if t.DueDate == nil || t.Status == StatusCompleted {
		return false
	}
	return t.DueDate.Before(StartOfDay(now))
}

// Percent returns round(part / whole * 100), or 0 when whole is 0.
func Percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return roundHalfUp(float64(part) / float64(whole) * 100)
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
