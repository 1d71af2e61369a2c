package models

import "time"

type Account struct {
	ID          int64     `db:"id" json:"id"`
	Handle      string    `db:"handle" json:"handle"`
	IGUserID    string    `db:"ig_user_id" json:"ig_user_id"`
	AccessToken string    `db:"access_token" json:"-"`
	Timezone    string    `db:"timezone" json:"timezone"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
