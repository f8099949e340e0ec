package directory

import "time"

// User is an account keyed by its phone number. Phone is the natural
// key: registering the same phone twice resolves to the existing row.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Phone     string    `gorm:"column:phone;size:32;not null;uniqueIndex:idx_users_phone" json:"phone"`
	Name      string    `gorm:"column:name;size:190" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Contact is an address-book entry owned by one user. ContactUserID is a
// weak back reference: it is filled in when a user with the matching
// phone exists, and backfilled retroactively when one appears later. The
// link is never removed.
type Contact struct {
	ID            string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	OwnerUserID   string    `gorm:"column:owner_user_id;size:190;not null;index:idx_contacts_owner" json:"owner_user_id"`
	ContactUserID *string   `gorm:"column:contact_user_id;size:190" json:"contact_user_id"`
	ContactName   string    `gorm:"column:contact_name;size:190" json:"contact_name"`
	ContactPhone  string    `gorm:"column:contact_phone;size:32;not null;index:idx_contacts_phone" json:"contact_phone"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Contact) TableName() string {
	return "contacts"
}
