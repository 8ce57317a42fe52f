package domain

// Category names one bucket of the board.
type Category string

const (
	CategoryOnTime   Category = "on_time"
	CategoryLate     Category = "late"
	CategoryAbsent   Category = "absent"
	CategoryPresent  Category = "present"
	CategoryDeparted Category = "departed"
	// CategoryUnknown holds students whose record subscription failed.
	CategoryUnknown Category = "unknown"
)

// Categories returns the buckets a mode always exposes, in display order.
func Categories(mode Mode) []Category {
	switch mode {
	case ModeTimeOut:
		return []Category{CategoryPresent, CategoryDeparted}
	default:
		return []Category{CategoryOnTime, CategoryLate, CategoryAbsent}
	}
}

// Bucket is an ordered group of students sharing a category.
type Bucket struct {
	Category Category  `json:"category"`
	Students []Student `json:"students"`
}

// Count is the number of students in the bucket.
func (b Bucket) Count() int {
	return len(b.Students)
}

// View is the derived board for one selection.
type View struct {
	Section string `json:"section"`
	Date    Date   `json:"date"`
	Mode    Mode   `json:"mode"`
	// NoAttendance is set on weekends; Buckets and Counts are empty then.
	NoAttendance bool             `json:"no_attendance"`
	Buckets      []Bucket         `json:"buckets"`
	Counts       map[Category]int `json:"counts"`
}

// Bucket returns the bucket for category, or an empty bucket when absent.
func (v View) Bucket(category Category) Bucket {
	for _, bucket := range v.Buckets {
		if bucket.Category == category {
			return bucket
		}
	}
	return Bucket{Category: category}
}

// Total is the number of students placed in any bucket.
func (v View) Total() int {
	total := 0
	for _, bucket := range v.Buckets {
		total += bucket.Count()
	}
	return total
}

// Classify places one student's record state into a category for mode.
func Classify(state RecordState, mode Mode) Category {
	if state.Unknown() {
		return CategoryUnknown
	}
	if mode == ModeTimeOut {
		if state.departed() {
			return CategoryDeparted
		}
		return CategoryPresent
	}
	switch state.status() {
	case StatusOnTime:
		return CategoryOnTime
	case StatusLate:
		return CategoryLate
	default:
		return CategoryAbsent
	}
}

// Compute derives the board for the active students.
//
// Every active student lands in exactly one bucket. Students missing from
// records classify as having no document. Bucket members keep the order of
// active. The unknown bucket is appended only when it has members.
func Compute(active []Student, records map[string]RecordState, selection Selection) View {
	mode := selection.Mode
	if mode != ModeTimeOut {
		mode = ModeTimeIn
	}
	view := View{
		Section: selection.Section,
		Date:    selection.Date,
		Mode:    mode,
		Counts:  map[Category]int{},
	}
	if selection.Date.IsWeekend() {
		view.NoAttendance = true
		return view
	}

	categories := Categories(mode)
	members := make(map[Category][]Student, len(categories)+1)
	for _, student := range active {
		category := Classify(records[student.ID], mode)
		members[category] = append(members[category], student)
	}

	view.Buckets = make([]Bucket, 0, len(categories)+1)
	for _, category := range categories {
		students := members[category]
		if students == nil {
			students = []Student{}
		}
		view.Buckets = append(view.Buckets, Bucket{Category: category, Students: students})
		view.Counts[category] = len(students)
	}
	if unknown := members[CategoryUnknown]; len(unknown) > 0 {
		view.Buckets = append(view.Buckets, Bucket{Category: CategoryUnknown, Students: unknown})
		view.Counts[CategoryUnknown] = len(unknown)
	}
	return view
}
