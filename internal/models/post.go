package models

// Post represents a row of the posts table
type Post struct {
	ID      int64  `gorm:"primaryKey;autoIncrement;column:id"`
	Author  string `gorm:"type:varchar(64);not null;index:idx_posts_author;column:author"`
	Content string `gorm:"type:text;not null;column:content"`
	// CreatedAt is Unix seconds assigned by the feed engine, never by gorm.
	CreatedAt int64 `gorm:"not null;autoCreateTime:false;index:idx_posts_created_at,sort:desc;column:created_at"`
}

// TableName specifies the table name for Post
func (Post) TableName() string {
	return "posts"
}

// PostView is the display-ready form of a post. It is what the cache stores under a
// post key and what the feed hands to callers.
type PostView struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	Avatar    string `json:"avatar"`
}

// TimelineEntry is one (post id, creation time) pair of the timeline index.
type TimelineEntry struct {
	ID        int64
	CreatedAt int64
}
