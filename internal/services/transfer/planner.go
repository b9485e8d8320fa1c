package transfer

import "github.com/3Eeeecho/go-uploadhub/internal/models"

// PlanChunks 把 [0, size) 按 chunkSize 切成连续不重叠的分片
// 最后一片可能小于 chunkSize，各片大小之和恰好等于 size
func PlanChunks(size, chunkSize int64) []models.Chunk {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}
	totalChunks := int((size + chunkSize - 1) / chunkSize)
	chunks := make([]models.Chunk, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > size {
			end = size
		}
		chunks = append(chunks, models.Chunk{
			Index: i,
			Start: start,
			End:   end,
			Size:  end - start,
		})
	}
	return chunks
}

// ApplyResume 把续传记录中已完成的分片标记为 uploaded，
// 这些分片不会再被调度
func ApplyResume(chunks []models.Chunk, record *models.ResumeRecord) {
	if record == nil {
		return
	}
	for _, idx := range record.CompletedChunks {
		if idx >= 0 && idx < len(chunks) {
			chunks[idx].Uploaded = true
		}
	}
}

// ResumedBytes 计算续传记录覆盖的字节数，按记录的分片大小切分
func ResumedBytes(size int64, record *models.ResumeRecord) int64 {
	if record == nil {
		return 0
	}
	chunks := PlanChunks(size, record.ChunkSize)
	ApplyResume(chunks, record)
	var n int64
	for _, c := range chunks {
		if c.Uploaded {
			n += c.Size
		}
	}
	return n
}
