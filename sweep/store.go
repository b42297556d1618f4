package sweep

// memoryState is the authoritative in-memory state: jobs, tasks, insertion
// orders, and result-summary stubs. Every access goes through the core
// mutex; memoryState itself carries no locking.
type memoryState struct {
	jobs      map[string]*Job
	tasks     map[string]map[string]*Task // jobID -> taskID -> task
	taskOrder map[string][]string         // jobID -> task IDs in insertion order
	jobOrder  []string                    // job IDs in insertion order
	results   map[string]*ResultSummary
}

func newMemoryState() *memoryState {
	s := &memoryState{}
	s.clear()
	return s
}

func (s *memoryState) clear() {
	s.jobs = make(map[string]*Job)
	s.tasks = make(map[string]map[string]*Task)
	s.taskOrder = make(map[string][]string)
	s.jobOrder = nil
	s.results = make(map[string]*ResultSummary)
}

func (s *memoryState) addJob(job *Job, tasks []*Task) {
	s.jobs[job.ID] = job
	byID := make(map[string]*Task, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
		order = append(order, task.ID)
	}
	s.tasks[job.ID] = byID
	s.taskOrder[job.ID] = order
	for _, id := range s.jobOrder {
		if id == job.ID {
			return
		}
	}
	s.jobOrder = append(s.jobOrder, job.ID)
}

func (s *memoryState) jobTasks(jobID string) []*Task {
	order := s.taskOrder[jobID]
	byID := s.tasks[jobID]
	tasks := make([]*Task, 0, len(order))
	for _, id := range order {
		tasks = append(tasks, byID[id])
	}
	return tasks
}

func (s *memoryState) countStatus(jobID string, status Status) int {
	n := 0
	for _, task := range s.tasks[jobID] {
		if task.Status == status {
			n++
		}
	}
	return n
}
