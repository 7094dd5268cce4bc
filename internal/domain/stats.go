package domain

// CountByLabel is one bucket of a dashboard breakdown.
type CountByLabel struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title,omitempty"`
	Month    string `json:"month,omitempty"`
	Category string `json:"category,omitempty"`
	Count    int    `json:"count"`
}

// DashboardStats is the administrative console summary.
type DashboardStats struct {
	UsersCount            int            `json:"users_count"`
	ActiveBorrowingsCount int            `json:"active_borrowings_count"`
	OverdueBorrowings     int            `json:"overdue_borrowings_count"`
	BooksCount            int            `json:"books_count"`
	MostBorrowedBooks     []CountByLabel `json:"most_borrowed_books"`
	BorrowingsByMonth     []CountByLabel `json:"borrowings_by_month"`
	ReturnsByMonth        []CountByLabel `json:"returns_by_month"`
	BooksByCategory       []CountByLabel `json:"books_by_category"`
}

// AdminUser is an account as seen by the administrative console.
type AdminUser struct {
	Principal
	ActiveLoans int `json:"active_borrowings,omitempty"`
}
