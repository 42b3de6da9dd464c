package publish

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser/browsertest"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

const uploadHTML = `<html><body>
<input type="file"/>
<div class="video-batch-footer"><button>发布</button></div>
</body></html>`

const unverifiedHTML = `<html><body>
<input type="file"/>
<div class="video-batch-footer"><button>发布</button></div>
<div class="byte-modal-content">账号信息未完善，暂时不能进行发布文章、视频等权益操作，请完善后重试</div>
</body></html>`

const uploadingHTML = `<html><body>
<span class="percent">45%</span>
<div class="video-batch-footer"><button>发布</button></div>
</body></html>`

const uploadedHTML = `<html><body>
<span class="percent">上传成功</span>
<div class="fake-upload-trigger">选择封面</div>
<ul class="header"><li>截取封面</li><li>本地上传</li></ul>
<div class="m-content"><input type="file"/></div>
<div class="clip-btn-content">完成剪裁</div>
<button class="btn-sure">确定</button>
<button class="undefined">确定</button>
<div class="video-batch-footer"><button>发布</button></div>
</body></html>`

// newUploadPage 第一次点击发布后页面变为 afterCheck
func newUploadPage(t *testing.T, afterCheck string) *browsertest.Page {
	t.Helper()
	b := browsertest.NewBrowser(browsertest.Routes(map[string]string{UploadURL: uploadHTML}))
	publishes := 0
	b.OnClick = func(p *browsertest.Page, selector, text string) error {
		if selector == selVideoPublish && text == videoPublishText {
			publishes++
			if publishes == 1 {
				p.SetHTML(afterCheck)
			}
		}
		return nil
	}
	page, err := b.NewPage(context.Background())
	require.NoError(t, err)
	return page.(*browsertest.Page)
}

func video() models.Item {
	it := models.NewStub(models.KindVideo, "7302", "原神新角色", "https://www.toutiao.com/video/7302/", "游戏", "原神")
	it.MD5 = "d41d8cd98f00b204e9800998ecf8427e"
	it.Path = "videos/7302.mp4"
	return it
}

func publishClicks(page *browsertest.Page) int {
	n := 0
	for _, c := range page.Clicks() {
		if c == selVideoPublish+"|"+videoPublishText {
			n++
		}
	}
	return n
}

func TestPublishVideo(t *testing.T) {
	page := newUploadPage(t, uploadedHTML)
	p := New(nil, nil, Options{StepTimeout: time.Second, UploadTimeout: time.Second, CoverFallback: "cover.jpg"})

	ok, err := p.PublishVideo(context.Background(), fakeSession{page}, video(), semaphore.NewWeighted(1))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, []string{UploadURL}, page.Navigations())
	assert.Equal(t, []string{"videos/7302.mp4"}, page.Files[selVideoInput])
	assert.Equal(t, []string{"cover.jpg"}, page.Files[selVideoCoverInput])
	assert.Equal(t, 2, publishClicks(page))
	assert.Subset(t, page.Clicks(), []string{selVideoCoverOpen, selCoverLocalTab, selClipDone, selCoverConfirm, selCoverDone})
}

func TestPublishVideoUnverified(t *testing.T) {
	page := newUploadPage(t, unverifiedHTML)
	p := New(nil, nil, Options{StepTimeout: time.Second, VideoCover: "video-cover.jpg"})

	ok, err := p.PublishVideo(context.Background(), fakeSession{page}, video(), semaphore.NewWeighted(1))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnverified)
	assert.Equal(t, 1, publishClicks(page))
	assert.NotContains(t, page.Files, selVideoCoverInput)
}

func TestPublishVideoUploadTimeout(t *testing.T) {
	page := newUploadPage(t, uploadingHTML)
	p := New(nil, nil, Options{StepTimeout: time.Second, UploadTimeout: 50 * time.Millisecond, CoverFallback: "cover.jpg"})

	ok, err := p.PublishVideo(context.Background(), fakeSession{page}, video(), semaphore.NewWeighted(1))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStepTimeout)
	assert.Equal(t, 1, publishClicks(page))
}

func TestPublishVideoPreconditions(t *testing.T) {
	page := newUploadPage(t, uploadedHTML)

	p := New(nil, nil, Options{StepTimeout: time.Second})
	_, err := p.PublishVideo(context.Background(), fakeSession{page}, video(), semaphore.NewWeighted(1))
	assert.ErrorIs(t, err, ErrNoVideoCover)

	p = New(nil, nil, Options{StepTimeout: time.Second, CoverFallback: "cover.jpg"})
	stub := video()
	stub.Path = ""
	_, err = p.PublishVideo(context.Background(), fakeSession{page}, stub, semaphore.NewWeighted(1))
	assert.ErrorContains(t, err, "还没有下载")

	assert.Empty(t, page.Navigations())
}
