package accounts

// User is a registered account holding the credentials a session resolves to.
type User struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email            string `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash     string `gorm:"column:password_hash;size:120;not null"`
	DisplayName      string `gorm:"column:display_name;size:320"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Session is a bearer credential row. Only the SHA-256 hash of the issued
// token is stored; the row is removed at logout or once expired by the sweep.
type Session struct {
	TokenHash        string `gorm:"column:token_hash;primaryKey;size:64;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null;index"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "sessions"
}
