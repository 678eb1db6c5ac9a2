// Package command 定义了网关与分发器之间的命令词汇表，以及命令、应答信封的编解码。
package command

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/wyfcoding/qaflow/xerrors"
)

// Action 命令信封中的 action 判别字段。
type Action string

const (
	ActionGetPosts         Action = "GET_POSTS"
	ActionGetInteresting   Action = "GET_INTERESTING"
	ActionGetHotPosts      Action = "GET_HOT_POSTS"
	ActionGetTopScore      Action = "GET_TOP_SCORE"
	ActionGetTopUnanswered Action = "GET_TOP_UNANSWERED"
	ActionGetSinglePost    Action = "GET_SINGLE_POST"
	ActionGetPostsByTag    Action = "GET_POSTS_BY_TAG"
	ActionAddPost          Action = "ADD_POST"
	ActionAddAnswer        Action = "ADD_ANSWER"
	ActionAddComment       Action = "ADD_COMMENT"
	ActionAddCommentAnswer Action = "ADD_COMMENT_ANSWER"
	ActionVoteQuestion     Action = "VOTE_QUESTION"
	ActionVoteAnswer       Action = "VOTE_ANSWER"
	ActionMarkAccepted     Action = "MARK_ACCEPTED"
)

// Mutating 报告动作是否修改数据，重复执行会产生副作用。
func (a Action) Mutating() bool {
	switch a {
	case ActionAddPost, ActionAddAnswer, ActionAddComment, ActionAddCommentAnswer,
		ActionVoteQuestion, ActionVoteAnswer, ActionMarkAccepted:
		return true
	}
	return false
}

// Command 所有命令变体的公共接口。
type Command interface {
	Action() Action
}

type (
	GetPosts         struct{}
	GetInteresting   struct{}
	GetHotPosts      struct{}
	GetTopScore      struct{}
	GetTopUnanswered struct{}
)

// GetSinglePost 读取单个问题并累加浏览数。
type GetSinglePost struct {
	ID string `json:"id" validate:"required"`
}

// GetPostsByTag 按标签筛选问题。
type GetPostsByTag struct {
	TagName string `json:"tagname" validate:"required"`
}

// AddPost 发布问题。标签数量上限由处理器校验，以便返回 TooManyTags。
type AddPost struct {
	Title   string   `json:"title"   validate:"required"`
	Body    string   `json:"body"    validate:"required"`
	Tags    []string `json:"tags"    validate:"dive,required"`
	OwnerID int64    `json:"ownerId" validate:"required"`
}

type AddAnswer struct {
	QuestionID string `json:"questionId" validate:"required"`
	Body       string `json:"body"       validate:"required"`
	OwnerID    int64  `json:"ownerId"    validate:"required"`
}

// AddComment 在问题下追加评论。
type AddComment struct {
	ParentID string `json:"parentId" validate:"required"`
	Comment  string `json:"comment"  validate:"required"`
	UserID   int64  `json:"userId"   validate:"required"`
	UserName string `json:"userName" validate:"required"`
}

// AddCommentAnswer 在回答下追加评论。
type AddCommentAnswer struct {
	QuestionID string `json:"questionId" validate:"required"`
	AnswerID   string `json:"answerId"   validate:"required"`
	Comment    string `json:"comment"    validate:"required"`
	UserID     int64  `json:"userId"     validate:"required"`
	UserName   string `json:"userName"   validate:"required"`
}

// VoteQuestion 的 Value 只接受 1 或 -1，由处理器校验。
type VoteQuestion struct {
	UserID     int64  `json:"userId"     validate:"required"`
	QuestionID string `json:"questionId" validate:"required"`
	Value      int    `json:"value"`
}

type VoteAnswer struct {
	UserID     int64  `json:"userId"     validate:"required"`
	QuestionID string `json:"questionId" validate:"required"`
	AnswerID   string `json:"answerId"   validate:"required"`
	Value      int    `json:"value"`
}

type MarkAccepted struct {
	UserID     int64  `json:"userId"     validate:"required"`
	QuestionID string `json:"questionId" validate:"required"`
	AnswerID   string `json:"answerId"   validate:"required"`
}

func (GetPosts) Action() Action         { return ActionGetPosts }
func (GetInteresting) Action() Action   { return ActionGetInteresting }
func (GetHotPosts) Action() Action      { return ActionGetHotPosts }
func (GetTopScore) Action() Action      { return ActionGetTopScore }
func (GetTopUnanswered) Action() Action { return ActionGetTopUnanswered }
func (GetSinglePost) Action() Action    { return ActionGetSinglePost }
func (GetPostsByTag) Action() Action    { return ActionGetPostsByTag }
func (AddPost) Action() Action          { return ActionAddPost }
func (AddAnswer) Action() Action        { return ActionAddAnswer }
func (AddComment) Action() Action       { return ActionAddComment }
func (AddCommentAnswer) Action() Action { return ActionAddCommentAnswer }
func (VoteQuestion) Action() Action     { return ActionVoteQuestion }
func (VoteAnswer) Action() Action       { return ActionVoteAnswer }
func (MarkAccepted) Action() Action     { return ActionMarkAccepted }

var validate = validator.New()

// Header 信封中与动作无关的公共字段。
type Header struct {
	CorrelationID string `json:"correlationId"`
	Action        Action `json:"action"`
}

// Encode 生成 {correlationId, action, ...fields} 形式的命令信封。
func Encode(correlationID string, cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["correlationId"], _ = json.Marshal(correlationID)
	fields["action"], _ = json.Marshal(cmd.Action())
	return json.Marshal(fields)
}

// DecodeHeader 只解析关联 ID 与动作。
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return h, xerrors.Validation("malformed command envelope").WithDetail("%v", err)
	}
	return h, nil
}

// Decode 解析命令信封为具体的命令变体并做结构校验。
// 未知动作返回 UnknownAction，载荷不合法返回 ValidationError，两种情况下 Header 均尽量保留。
func Decode(data []byte) (Header, Command, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return h, nil, err
	}

	decode, ok := decoders[h.Action]
	if !ok {
		return h, nil, xerrors.UnknownAction(string(h.Action))
	}
	cmd, err := decode(data)
	return h, cmd, err
}

var decoders = map[Action]func([]byte) (Command, error){
	ActionGetPosts:         decodeAs[GetPosts],
	ActionGetInteresting:   decodeAs[GetInteresting],
	ActionGetHotPosts:      decodeAs[GetHotPosts],
	ActionGetTopScore:      decodeAs[GetTopScore],
	ActionGetTopUnanswered: decodeAs[GetTopUnanswered],
	ActionGetSinglePost:    decodeAs[GetSinglePost],
	ActionGetPostsByTag:    decodeAs[GetPostsByTag],
	ActionAddPost:          decodeAs[AddPost],
	ActionAddAnswer:        decodeAs[AddAnswer],
	ActionAddComment:       decodeAs[AddComment],
	ActionAddCommentAnswer: decodeAs[AddCommentAnswer],
	ActionVoteQuestion:     decodeAs[VoteQuestion],
	ActionVoteAnswer:       decodeAs[VoteAnswer],
	ActionMarkAccepted:     decodeAs[MarkAccepted],
}

func decodeAs[C Command](data []byte) (Command, error) {
	var cmd C
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, xerrors.Validation("malformed command payload").WithDetail("%v", err)
	}
	if err := validate.Struct(cmd); err != nil {
		return nil, xerrors.Validation("invalid command payload").WithDetail("%v", err)
	}
	return cmd, nil
}
