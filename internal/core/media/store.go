package media

import "context"

// Storer 素材元数据持久化，重启后用于恢复注册表
type Storer interface {
	Save(ctx context.Context, src Source) error
	List(ctx context.Context) ([]Source, error)
	Delete(ctx context.Context, id SourceID) error
}

// Restore 从存储恢复素材，不再探测；无法路由到解码器的素材跳过
func (r *Registry) Restore(ctx context.Context, store Storer) (int, error) {
	list, err := store.List(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	for _, src := range list {
		if err := r.Add(src); err != nil {
			r.log.WarnContext(ctx, "restore source", "id", src.ID, "path", src.Path, "err", err)
			continue
		}
		n++
	}
	return n, nil
}
