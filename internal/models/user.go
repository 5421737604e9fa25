package models

// DefaultAvatar is shown for users that never picked one.
const DefaultAvatar = "🐧"

// User represents a registered author. Credentials live with the auth layer, not here.
type User struct {
	ID        int64  `gorm:"primaryKey;autoIncrement;column:id"`
	Username  string `gorm:"type:varchar(64);not null;uniqueIndex:users_username_ux;column:username"`
	Avatar    string `gorm:"type:varchar(32);not null;default:'🐧';column:avatar"`
	CreatedAt int64  `gorm:"not null;autoCreateTime;column:created_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}
