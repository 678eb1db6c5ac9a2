package qa

import (
	"context"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/wyfcoding/qaflow/command"
	"github.com/wyfcoding/qaflow/saga"
	"github.com/wyfcoding/qaflow/xerrors"
)

// imageMarkup 匹配 HTML 图片标签与 Markdown 图片语法。
var imageMarkup = regexp.MustCompile(`(?i)<img\b|!\[[^\]]*\]\([^)]*\)`)

// CreatePost 发布问题。
// 标签数量、作者与全部标签先校验，任何计数变更之前失败都不会留下写入。
// 随后按 标签计数 -> 写入问题 的顺序执行，写入失败时回退标签计数；
// 作者的提问计数在问题写入之后更新，失败只记录日志。
func (s *Service) CreatePost(ctx context.Context, cmd command.AddPost) (*Post, error) {
	if len(cmd.Tags) > MaxTags {
		return nil, xerrors.Validation("only 5 tags are allowed").WithDetail("TooManyTags: got %d", len(cmd.Tags))
	}

	owner, err := s.user(ctx, cmd.OwnerID)
	if err != nil {
		return nil, err
	}

	tags := uniqueTags(cmd.Tags)
	missing, err := s.aggs.MissingTags(ctx, tags)
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to check tags")
	}
	if len(missing) > 0 {
		return nil, xerrors.NotFound("tag not present").WithDetail("TagNotFound: %s", strings.Join(missing, ","))
	}

	now := s.now()
	post := &Post{
		ID:             s.newID(),
		Title:          cmd.Title,
		Body:           cmd.Body,
		Tags:           tags,
		OwnerID:        owner.ID,
		Approved:       !imageMarkup.MatchString(cmd.Body),
		Answers:        []Answer{},
		Comments:       []Comment{},
		Activities:     []Activity{{When: now, What: ActivityAsked, By: owner.FullName}},
		CreatedAt:      now,
		LastModifiedAt: now,
	}

	err = saga.NewOrchestrator("create-post", s.logger).
		AddStep("increment-tags",
			func(ctx context.Context) error { return s.aggs.IncrementTags(ctx, tags, 1) },
			func(ctx context.Context) error { return s.aggs.IncrementTags(ctx, tags, -1) }).
		AddStep("insert-post",
			func(ctx context.Context) error { return s.docs.InsertPost(ctx, post) },
			nil).
		Execute(ctx)
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to create post")
	}

	s.bump(ctx, owner.ID, CounterQuestions, 1)
	s.invalidateLists(ctx)
	return post, nil
}

func uniqueTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// ListPosts 最新问题。
func (s *Service) ListPosts(ctx context.Context, _ command.GetPosts) ([]PostView, error) {
	return s.list(ctx, keyNewest, ListQuery{Sort: SortCreatedAt, Limit: listLimit})
}

// Interesting 最近有变化的问题。
func (s *Service) Interesting(ctx context.Context, _ command.GetInteresting) ([]PostView, error) {
	return s.list(ctx, keyInteresting, ListQuery{Sort: SortLastModified, Limit: listLimit})
}

// Hot 浏览最多的问题。
func (s *Service) Hot(ctx context.Context, _ command.GetHotPosts) ([]PostView, error) {
	return s.list(ctx, keyHot, ListQuery{Sort: SortViewCount, Limit: listLimit})
}

// TopScore 得分最高的问题。
func (s *Service) TopScore(ctx context.Context, _ command.GetTopScore) ([]PostView, error) {
	return s.list(ctx, keyTopScore, ListQuery{Sort: SortScore, Limit: listLimit})
}

// TopUnanswered 尚无回答的问题按得分排序。
func (s *Service) TopUnanswered(ctx context.Context, _ command.GetTopUnanswered) ([]PostView, error) {
	return s.list(ctx, keyUnanswered, ListQuery{Sort: SortScore, Unanswered: true, Limit: listLimit})
}

// list 读穿缓存，同一键的并发未命中只回源一次。
func (s *Service) list(ctx context.Context, key string, q ListQuery) ([]PostView, error) {
	var cached []PostView
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	gen := s.listGen.Load()
	v, err, _ := s.group.Do(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		posts, err := s.docs.FindPosts(ctx, q)
		if err != nil {
			return nil, err
		}
		views, err := s.join(ctx, posts)
		if err != nil {
			return nil, err
		}
		if s.listGen.Load() == gen {
			s.setCache(ctx, key, views, s.listTTL)
		}
		return views, nil
	})
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to list posts")
	}
	return v.([]PostView), nil
}

// join 批量关联作者，作者不存在的问题被跳过。
func (s *Service) join(ctx context.Context, posts []*Post) ([]PostView, error) {
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		if !slices.Contains(ids, p.OwnerID) {
			ids = append(ids, p.OwnerID)
		}
	}
	owners, err := s.aggs.GetOwners(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]PostView, 0, len(posts))
	for _, p := range posts {
		owner, ok := owners[p.OwnerID]
		if !ok {
			s.logger.DebugContext(ctx, "skipping post without owner", "post_id", p.ID, "owner_id", p.OwnerID)
			continue
		}
		views = append(views, PostView{Post: p, OwnerData: &owner})
	}
	return views, nil
}

// GetSinglePost 累加浏览数并返回问题，每次读取都会重写单条缓存。
func (s *Service) GetSinglePost(ctx context.Context, cmd command.GetSinglePost) (*PostView, error) {
	post, err := s.docs.ViewPost(ctx, cmd.ID)
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to load post")
	}

	view := &PostView{Post: post}
	owners, err := s.aggs.GetOwners(ctx, []int64{post.OwnerID})
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to load owner")
	}
	if owner, ok := owners[post.OwnerID]; ok {
		view.OwnerData = &owner
	}

	s.setCache(ctx, PostKey(post.ID), view, s.postTTL)
	return view, nil
}

// GetPostsByTag 按标签筛选，不关联作者也不走缓存。
func (s *Service) GetPostsByTag(ctx context.Context, cmd command.GetPostsByTag) ([]*Post, error) {
	posts, err := s.docs.FindPosts(ctx, ListQuery{Sort: SortCreatedAt, Tag: cmd.TagName})
	if err != nil {
		return nil, xerrors.WrapStore(err, "failed to list posts by tag")
	}
	if posts == nil {
		posts = []*Post{}
	}
	return posts, nil
}
