package qa

import (
	"context"

	"github.com/wyfcoding/qaflow/command"
	"github.com/wyfcoding/qaflow/xerrors"
)

const (
	questionVoteReputation = 10
	answerVoteReputation   = 5
	acceptReputation       = 15
)

// AddAnswer 在一次更新中追加回答与问题上的活动记录。
func (s *Service) AddAnswer(ctx context.Context, cmd command.AddAnswer) (*Answer, error) {
	owner, err := s.user(ctx, cmd.OwnerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	answer := Answer{
		ID:         s.newID(),
		Body:       cmd.Body,
		OwnerID:    owner.ID,
		Comments:   []Comment{},
		Activities: []Activity{{When: now, What: ActivityAnswered, By: owner.FullName}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	activity := Activity{When: now, What: ActivityAnswer, By: owner.FullName, Comment: "answer added to the question"}

	if err := s.docs.PushAnswer(ctx, cmd.QuestionID, answer, activity); err != nil {
		return nil, xerrors.WrapStore(err, "failed to add answer")
	}
	s.bump(ctx, owner.ID, CounterAnswers, 1)
	return &answer, nil
}

// AddComment 在问题下追加评论，随后失效列表缓存。
func (s *Service) AddComment(ctx context.Context, cmd command.AddComment) (*Comment, error) {
	if _, err := s.user(ctx, cmd.UserID); err != nil {
		return nil, err
	}

	comment, activity := s.newComment(cmd.Comment, cmd.UserName)
	if err := s.docs.PushComment(ctx, cmd.ParentID, comment, activity); err != nil {
		return nil, xerrors.WrapStore(err, "failed to add comment")
	}
	s.bump(ctx, cmd.UserID, CounterComments, 1)
	s.invalidateLists(ctx)
	return &comment, nil
}

// AddCommentToAnswer 在指定回答下追加评论，随后失效列表缓存。
func (s *Service) AddCommentToAnswer(ctx context.Context, cmd command.AddCommentAnswer) (*Comment, error) {
	if _, err := s.user(ctx, cmd.UserID); err != nil {
		return nil, err
	}

	comment, activity := s.newComment(cmd.Comment, cmd.UserName)
	if err := s.docs.PushAnswerComment(ctx, cmd.QuestionID, cmd.AnswerID, comment, activity); err != nil {
		return nil, xerrors.WrapStore(err, "failed to add comment")
	}
	s.bump(ctx, cmd.UserID, CounterComments, 1)
	s.invalidateLists(ctx)
	return &comment, nil
}

func (s *Service) newComment(text, userName string) (Comment, Activity) {
	now := s.now()
	return Comment{ID: s.newID(), Text: text, UserName: userName, CreatedAt: now},
		Activity{When: now, What: ActivityComment, By: userName, Comment: text}
}

// VoteQuestion 调整问题得分、投票者的投票计数与作者声望，三者之间没有原子性。
// 列表缓存不失效。
func (s *Service) VoteQuestion(ctx context.Context, cmd command.VoteQuestion) (*VoteResult, error) {
	if err := validVote(cmd.Value); err != nil {
		return nil, err
	}
	if _, err := s.user(ctx, cmd.UserID); err != nil {
		return nil, err
	}

	change, err := s.docs.IncPostScore(ctx, cmd.QuestionID, cmd.Value)
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to vote question")
	}
	s.applyVote(ctx, cmd.UserID, change.OwnerID, cmd.Value, questionVoteReputation)
	return &VoteResult{QuestionID: cmd.QuestionID, Score: change.Score}, nil
}

// VoteAnswer 与 VoteQuestion 相同，作者声望变化为 5。
func (s *Service) VoteAnswer(ctx context.Context, cmd command.VoteAnswer) (*VoteResult, error) {
	if err := validVote(cmd.Value); err != nil {
		return nil, err
	}
	if _, err := s.user(ctx, cmd.UserID); err != nil {
		return nil, err
	}

	change, err := s.docs.IncAnswerScore(ctx, cmd.QuestionID, cmd.AnswerID, cmd.Value)
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to vote answer")
	}
	s.applyVote(ctx, cmd.UserID, change.OwnerID, cmd.Value, answerVoteReputation)
	return &VoteResult{QuestionID: cmd.QuestionID, AnswerID: cmd.AnswerID, Score: change.Score}, nil
}

func (s *Service) applyVote(ctx context.Context, voterID, ownerID int64, value, reputation int) {
	counter := CounterUpvotes
	if value < 0 {
		counter = CounterDownvotes
	}
	s.bump(ctx, voterID, counter, 1)
	s.bump(ctx, ownerID, CounterReputation, value*reputation)
}

// MarkAccepted 采纳回答并为回答作者增加 15 声望。
// 不检查该问题是否已有其他被采纳的回答，重复采纳同一回答同样会再次加分。
func (s *Service) MarkAccepted(ctx context.Context, cmd command.MarkAccepted) (*Answer, error) {
	by, err := s.user(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	postActivity := Activity{When: now, What: ActivityAnswerAccepted, By: by.FullName, Comment: "marked answer as approved"}
	answerActivity := Activity{When: now, What: ActivityApproved, By: by.FullName, Comment: "marked answer as approved"}

	answer, err := s.docs.AcceptAnswer(ctx, cmd.QuestionID, cmd.AnswerID, postActivity, answerActivity)
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to accept answer")
	}
	s.bump(ctx, answer.OwnerID, CounterReputation, acceptReputation)
	return answer, nil
}
