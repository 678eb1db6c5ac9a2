// Package qa 实现问答领域的命令处理器。
// 问题聚合保存在文档存储中，用户与标签计数保存在关系存储中，两者之间没有共享事务。
package qa

import (
	"slices"
	"time"
)

// MaxTags 每个问题允许的最大标签数。
const MaxTags = 5

// 活动记录的类型。
const (
	ActivityAsked          = "asked"
	ActivityAnswered       = "answered"
	ActivityAnswer         = "answer"
	ActivityComment        = "comment"
	ActivityAnswerAccepted = "answer accepted"
	ActivityApproved       = "Approved"
)

// Activity 聚合内只追加的审计记录。
type Activity struct {
	When    time.Time `json:"when"    bson:"when"`
	What    string    `json:"what"    bson:"what"`
	By      string    `json:"by"      bson:"by"`
	Comment string    `json:"comment" bson:"comment"`
}

// Comment 创建后不可修改。
type Comment struct {
	ID        string    `json:"id"        bson:"id"`
	Text      string    `json:"comment"   bson:"comment"`
	UserName  string    `json:"userName"  bson:"userName"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type Answer struct {
	ID         string     `json:"id"         bson:"id"`
	Body       string     `json:"body"       bson:"body"`
	OwnerID    int64      `json:"ownerId"    bson:"ownerId"`
	IsAccepted bool       `json:"isAccepted" bson:"isAccepted"`
	Score      int        `json:"score"      bson:"score"`
	Comments   []Comment  `json:"comments"   bson:"comments"`
	Activities []Activity `json:"activities" bson:"activities"`
	CreatedAt  time.Time  `json:"createdAt"  bson:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"  bson:"updatedAt"`
}

// Post 问题聚合，独占其回答、评论与活动记录。
type Post struct {
	ID             string     `json:"id"             bson:"_id"`
	Title          string     `json:"title"          bson:"title"`
	Body           string     `json:"body"           bson:"body"`
	Tags           []string   `json:"tags"           bson:"tags"`
	OwnerID        int64      `json:"ownerId"        bson:"ownerId"`
	Approved       bool       `json:"approved"       bson:"approved"`
	Score          int        `json:"score"          bson:"score"`
	ViewCount      int        `json:"viewCount"      bson:"viewCount"`
	AnswerApproved bool       `json:"answerApproved" bson:"answerApproved"`
	Answers        []Answer   `json:"answers"        bson:"answers"`
	Comments       []Comment  `json:"comments"       bson:"comments"`
	Activities     []Activity `json:"activities"     bson:"activities"`
	CreatedAt      time.Time  `json:"createdAt"      bson:"createdAt"`
	LastModifiedAt time.Time  `json:"lastModifiedAt" bson:"lastModifiedAt"`
}

// Answer 按 ID 查找回答。
func (p *Post) Answer(id string) (*Answer, bool) {
	for i := range p.Answers {
		if p.Answers[i].ID == id {
			return &p.Answers[i], true
		}
	}
	return nil, false
}

// Clone 深拷贝聚合。
func (p *Post) Clone() *Post {
	c := *p
	c.Tags = slices.Clone(p.Tags)
	c.Comments = slices.Clone(p.Comments)
	c.Activities = slices.Clone(p.Activities)
	c.Answers = make([]Answer, len(p.Answers))
	for i, a := range p.Answers {
		a.Comments = slices.Clone(a.Comments)
		a.Activities = slices.Clone(a.Activities)
		c.Answers[i] = a
	}
	return &c
}

// User 用户聚合，除 Reputation 外的计数都不为负。
type User struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Picture       string `json:"picture"`
	Reputation    int    `json:"reputation"`
	QuestionCount int    `json:"question_count"`
	AnswerCount   int    `json:"answer_count"`
	CommentCount  int    `json:"comment_count"`
	Upvotes       int    `json:"upvotes"`
	Downvotes     int    `json:"downvotes"`
}

// Owner 返回列表中展示的精简视图。
func (u *User) Owner() OwnerView {
	return OwnerView{FullName: u.FullName, Reputation: u.Reputation, Picture: u.Picture}
}

type Tag struct {
	TagName       string `json:"tagname"`
	QuestionCount int    `json:"questionCount"`
}

// OwnerView 作者的精简视图。
type OwnerView struct {
	FullName   string `json:"full_name"`
	Reputation int    `json:"reputation"`
	Picture    string `json:"picture"`
}

// PostView 问题及其作者视图，作者不存在时 OwnerData 为空。
type PostView struct {
	Post      *Post      `json:"post"`
	OwnerData *OwnerView `json:"ownerData"`
}

// VoteResult 投票后的得分。
type VoteResult struct {
	QuestionID string `json:"questionId"`
	AnswerID   string `json:"answerId,omitempty"`
	Score      int    `json:"score"`
}
