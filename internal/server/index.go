package server

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>MixCapture</title>
    <style>
        body { font-family: sans-serif; max-width: 32rem; margin: 2rem auto; }
        meter { width: 100%; height: 1.5rem; }
        canvas { width: 100%; height: 80px; background: #111; }
        button { margin-right: .5rem; }
    </style>
</head>
<body>
    <h1>MixCapture</h1>
    <p id="status">...</p>
    <label>Source
        <select id="source">
            <option value="">(profile)</option>
            <option value="microphone">Microphone</option>
            <option value="system">System</option>
            <option value="both">Both</option>
        </select>
    </label>
    <p>
        <button onclick="post('/start', new URLSearchParams({source: src.value}))">Start</button>
        <button onclick="post('/pause')">Pause</button>
        <button onclick="post('/resume')">Resume</button>
        <button onclick="stop()">Stop</button>
    </p>
    <p>Microphone <meter id="mic" min="0" max="100"></meter></p>
    <p>System <meter id="sys" min="0" max="100"></meter></p>
    <canvas id="wave" width="512" height="80"></canvas>
    <script>
        const src = document.getElementById('source');
        const statusEl = document.getElementById('status');
        async function post(path, body) {
            const res = await fetch(path, {method: 'POST', body});
            const data = await res.json();
            if (!data.success) statusEl.textContent = data.error;
            refresh();
        }
        async function stop() {
            const res = await fetch('/stop?name=' + Date.now(), {method: 'POST'});
            if (!res.ok) { statusEl.textContent = (await res.json()).error; return; }
            const url = URL.createObjectURL(await res.blob());
            const a = document.createElement('a');
            a.href = url; a.download = 'recording.wav'; a.click();
            refresh();
        }
        async function refresh() {
            const data = await (await fetch('/status')).json();
            statusEl.textContent = data.message;
        }
        const ctx = document.getElementById('wave').getContext('2d');
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws/levels');
        ws.onmessage = (ev) => {
            const msg = JSON.parse(ev.data);
            document.getElementById('mic').value = msg.levels.microphone;
            document.getElementById('sys').value = msg.levels.system;
            ctx.fillStyle = '#111'; ctx.fillRect(0, 0, 512, 80);
            ctx.strokeStyle = '#4c4'; ctx.beginPath();
            msg.waveform.forEach((v, i) => {
                const x = i * 512 / msg.waveform.length, y = 40 - v * 40;
                i ? ctx.lineTo(x, y) : ctx.moveTo(x, y);
            });
            ctx.stroke();
        };
        setInterval(refresh, 1000);
        refresh();
    </script>
</body>
</html>`
