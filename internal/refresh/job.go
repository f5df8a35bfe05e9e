package refresh

import (
	"errors"
	"fmt"
	"strings"
)

const (
	TableCompanies          = "companies"
	TableProcedures         = "procedures"
	TableProcedureCompanies = "procedure_companies"
)

type Action string

const (
	ActionClear  Action = "clear"
	ActionReload Action = "reload"
)

type Step struct {
	Action Action `json:"action"`
	Table  string `json:"table"`
}

func (s Step) String() string {
	return string(s.Action) + " " + s.Table
}

// TableSpec names a table and the tables its rows reference.
type TableSpec struct {
	Name      string   `json:"name"`
	DependsOn []string `json:"depends_on,omitempty"`
}

type Job struct {
	Tables []TableSpec `json:"tables"`
}

// DefaultJob is the domain table set. procedure_companies references both
// base tables.
func DefaultJob() Job {
	return Job{Tables: []TableSpec{
		{Name: TableCompanies},
		{Name: TableProcedures},
		{Name: TableProcedureCompanies, DependsOn: []string{TableCompanies, TableProcedures}},
	}}
}

// Names returns the table names in declaration order.
func (j Job) Names() []string {
	names := make([]string, len(j.Tables))
	for i, t := range j.Tables {
		names[i] = t.Name
	}
	return names
}

func (j Job) Has(table string) bool {
	for _, t := range j.Tables {
		if t.Name == table {
			return true
		}
	}
	return false
}

var ErrInvalidJob = errors.New("invalid refresh job")

// Order returns the tables so every table comes after the tables it depends
// on. Ties keep declaration order.
func (j Job) Order() ([]string, error) {
	if len(j.Tables) == 0 {
		return nil, fmt.Errorf("%w: no tables", ErrInvalidJob)
	}

	index := make(map[string]int, len(j.Tables))
	for i, t := range j.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: table %d has no name", ErrInvalidJob, i)
		}
		if _, dup := index[t.Name]; dup {
			return nil, fmt.Errorf("%w: table %s listed twice", ErrInvalidJob, t.Name)
		}
		index[t.Name] = i
	}

	indegree := make([]int, len(j.Tables))
	dependents := make([][]int, len(j.Tables))
	for i, t := range j.Tables {
		for _, dep := range t.DependsOn {
			d, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on unknown table %s", ErrInvalidJob, t.Name, dep)
			}
			indegree[i]++
			dependents[d] = append(dependents[d], i)
		}
	}

	order := make([]string, 0, len(j.Tables))
	done := make([]bool, len(j.Tables))
	for len(order) < len(j.Tables) {
		next := -1
		for i := range j.Tables {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var cyclic []string
			for i, t := range j.Tables {
				if !done[i] {
					cyclic = append(cyclic, t.Name)
				}
			}
			return nil, fmt.Errorf("%w: dependency cycle between %s", ErrInvalidJob, strings.Join(cyclic, ", "))
		}
		done[next] = true
		order = append(order, j.Tables[next].Name)
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return order, nil
}

// Plan clears tables most-dependent first, then reloads them least-dependent
// first.
func (j Job) Plan() ([]Step, error) {
	order, err := j.Order()
	if err != nil {
		return nil, err
	}
	steps := make([]Step, 0, 2*len(order))
	for i := len(order) - 1; i >= 0; i-- {
		steps = append(steps, Step{Action: ActionClear, Table: order[i]})
	}
	for _, table := range order {
		steps = append(steps, Step{Action: ActionReload, Table: table})
	}
	return steps, nil
}
