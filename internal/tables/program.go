package tables

// Program returns the registry for the educational program's schema.
// Within a category, parents are declared before the tables that
// reference them.
func Program() *Registry {
	r, err := NewRegistry(
		Descriptor{Name: "settings", Label: "Program settings", Category: Config},
		Descriptor{Name: "point_rules", Label: "Point rules", Category: Config},

		Descriptor{Name: "teachers", Label: "Teachers", Category: Core, Critical: true},
		Descriptor{Name: "circles", Label: "Study circles", Category: Core, Critical: true},
		Descriptor{Name: "students", Label: "Students", Category: Core, Critical: true},

		Descriptor{Name: "tools", Label: "Tools and equipment", Category: Auxiliary},
		Descriptor{Name: "activity_log", Label: "Admin activity log", Category: Auxiliary, TemporalKey: "created_at"},

		Descriptor{Name: "attendance", Label: "Student attendance", Category: Transactional, TemporalKey: "date"},
		Descriptor{Name: "teacher_attendance", Label: "Teacher attendance", Category: Transactional, TemporalKey: "date"},
		Descriptor{Name: "recitations", Label: "Recitation log", Category: Transactional, TemporalKey: "date"},
		Descriptor{Name: "points_log", Label: "Points log", Category: Transactional, TemporalKey: "date"},
		Descriptor{Name: "point_totals", Label: "Point balances", Category: Transactional, BalanceFields: []string{"total_points"}},
		Descriptor{Name: "tool_loans", Label: "Tool loans", Category: Transactional, TemporalKey: "loaned_on"},
	)
	if err != nil {
		panic(err)
	}
	return r
}
