package qa

import "github.com/wyfcoding/qaflow/dispatcher"

// Register 把全部命令处理器注册到分发器。
func (s *Service) Register(d *dispatcher.Dispatcher) {
	dispatcher.Handle(d, s.ListPosts)
	dispatcher.Handle(d, s.Interesting)
	dispatcher.Handle(d, s.Hot)
	dispatcher.Handle(d, s.TopScore)
	dispatcher.Handle(d, s.TopUnanswered)
	dispatcher.Handle(d, s.GetSinglePost)
	dispatcher.Handle(d, s.GetPostsByTag)
	dispatcher.Handle(d, s.CreatePost)
	dispatcher.Handle(d, s.AddAnswer)
	dispatcher.Handle(d, s.AddComment)
	dispatcher.Handle(d, s.AddCommentToAnswer)
	dispatcher.Handle(d, s.VoteQuestion)
	dispatcher.Handle(d, s.VoteAnswer)
	dispatcher.Handle(d, s.MarkAccepted)
}
